package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"asset-harvester/internal/model"
)

// DriveFetcher downloads gdrive://<fileId> items.
type DriveFetcher struct {
	Service *drive.Service
}

// Open resumes from req.Offset when possible. A range the object cannot
// satisfy (the part is already full size, or the file shrank) restarts the
// download from zero.
func (f *DriveFetcher) Open(ctx context.Context, req Request) (*Body, error) {
	id, ok := model.DriveFileID(req.Item.SourceRef)
	if !ok {
		return nil, model.Wrap(model.ErrTransfer, req.Item.SourceRef, errors.New("not a drive file reference"))
	}
	resp, err := f.download(ctx, id, req.Offset)
	if req.Offset > 0 && isRangeNotSatisfiable(err) {
		req.Offset = 0
		resp, err = f.download(ctx, id, 0)
	}
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			if gerr.Code == 401 || gerr.Code == 403 {
				return nil, model.Wrap(model.ErrCredential, req.Item.SourceRef, err)
			}
			return nil, &StatusError{Code: gerr.Code, Ref: req.Item.SourceRef}
		}
		return nil, fmt.Errorf("download %s: %w", req.Item.SourceRef, err)
	}
	return bodyFromResponse(resp, req.Item.SourceRef, req.Offset)
}

func (f *DriveFetcher) download(ctx context.Context, id string, offset int64) (*http.Response, error) {
	call := f.Service.Files.Get(id).SupportsAllDrives(true).Context(ctx)
	if offset > 0 {
		call.Header().Set("Range", rangeHeader(offset))
	}
	return call.Download()
}

// S3Fetcher downloads s3://bucket/key items.
type S3Fetcher struct {
	Client *s3.Client
}

func (f *S3Fetcher) Open(ctx context.Context, req Request) (*Body, error) {
	bucket, key, ok := model.SplitS3Ref(req.Item.SourceRef)
	if !ok || key == "" {
		return nil, model.Wrap(model.ErrTransfer, req.Item.SourceRef, errors.New("not an s3 object reference"))
	}
	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if req.Offset > 0 {
		input.Range = aws.String(rangeHeader(req.Offset))
	}
	out, err := f.Client.GetObject(ctx, input)
	if req.Offset > 0 && isRangeNotSatisfiable(err) {
		req.Offset = 0
		input.Range = nil
		out, err = f.Client.GetObject(ctx, input)
	}
	if err != nil {
		return nil, classifyS3Error(req.Item.SourceRef, err)
	}

	if cr := aws.ToString(out.ContentRange); cr != "" {
		start, total, ok := parseContentRange(cr)
		if !ok || start != req.Offset {
			out.Body.Close()
			return nil, model.Wrap(model.ErrTransfer, req.Item.SourceRef, fmt.Errorf("unexpected content range %q for offset %d", cr, req.Offset))
		}
		if total < 0 {
			total = 0
		}
		return &Body{ReadCloser: out.Body, Offset: start, Total: total}, nil
	}
	return &Body{ReadCloser: out.Body, Total: aws.ToInt64(out.ContentLength)}, nil
}

func isRangeNotSatisfiable(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusRequestedRangeNotSatisfiable
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusRequestedRangeNotSatisfiable
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}

func classifyS3Error(ref string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return model.Wrap(model.ErrCredential, ref, err)
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 400 {
		return &StatusError{Code: respErr.HTTPStatusCode(), Ref: ref}
	}
	return fmt.Errorf("get %s: %w", ref, err)
}
