package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"asset-harvester/internal/model"
)

const DefaultConcurrency = 2

// Strategy enumerates the items reachable from one seed. It must not touch
// the destination filesystem.
type Strategy interface {
	Discover(ctx context.Context, seed Seed, emit func(model.Item) error) error
}

// SeedError records a seed whose enumeration failed. Other seeds are unaffected.
type SeedError struct {
	Seed string
	Err  error
}

func (e SeedError) Kind() string {
	if k := model.KindName(e.Err); k != "" {
		return k
	}
	return "discovery"
}

type Result struct {
	Items []model.Item
	// Succeeded lists seeds that were enumerated without error.
	Succeeded []string
	Errors    []SeedError
}

type Service struct {
	Strategies  map[model.Kind]Strategy
	Concurrency int
	Logger      zerolog.Logger
	// OnItem, when set, is called for every newly discovered item.
	OnItem func(model.Item)
}

// Discover runs every seed through its strategy with at most Concurrency seeds
// in flight. Results keep seed order; duplicate ids keep the first occurrence.
func (s *Service) Discover(ctx context.Context, seeds []string) Result {
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	perSeed := make([][]model.Item, len(seeds))
	errs := make([]error, len(seeds))
	var emitMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, raw := range seeds {
		g.Go(func() error {
			seed, err := ParseSeed(raw)
			if err != nil {
				errs[i] = err
				return nil
			}
			strategy, ok := s.Strategies[seed.Kind]
			if !ok || strategy == nil {
				errs[i] = model.Wrap(model.ErrDiscovery, raw, fmt.Errorf("no strategy configured for %s seeds", seed.Kind))
				return nil
			}

			log := s.Logger.With().Str("seed", raw).Str("kind", string(seed.Kind)).Logger()
			log.Info().Msg("discovering")
			err = strategy.Discover(gctx, seed, func(it model.Item) error {
				if it.Seed == "" {
					it.Seed = raw
				}
				perSeed[i] = append(perSeed[i], it)
				if s.OnItem != nil {
					emitMu.Lock()
					s.OnItem(it)
					emitMu.Unlock()
				}
				return gctx.Err()
			})
			if err != nil {
				if !errors.Is(err, model.ErrCredential) && !errors.Is(err, model.ErrDiscovery) {
					err = model.Wrap(model.ErrDiscovery, raw, err)
				}
				errs[i] = err
				log.Warn().Err(err).Int("items", len(perSeed[i])).Msg("seed discovery failed")
				return nil
			}
			log.Info().Int("items", len(perSeed[i])).Msg("seed discovered")
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	seen := make(map[string]bool)
	destOwner := make(map[string]string)
	for i, raw := range seeds {
		if errs[i] != nil {
			res.Errors = append(res.Errors, SeedError{Seed: raw, Err: errs[i]})
		} else {
			res.Succeeded = append(res.Succeeded, raw)
		}
		for _, it := range perSeed[i] {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			if owner, taken := destOwner[it.DestPath]; taken && owner != it.ID {
				it = s.disambiguate(it, owner)
				if seen[it.ID] {
					continue
				}
				seen[it.ID] = true
			}
			destOwner[it.DestPath] = it.ID
			res.Items = append(res.Items, it)
		}
	}
	return res
}

// disambiguate moves an item whose destination is already claimed by another
// source to a path tagged with its own source hash. The first claimant keeps
// the plain path.
func (s *Service) disambiguate(it model.Item, owner string) model.Item {
	dest := model.DisambiguateDest(it.DestPath, it.SourceRef)
	s.Logger.Warn().
		Str("source", it.SourceRef).
		Str("path", it.DestPath).
		Str("claimed_by", owner).
		Str("renamed_to", dest).
		Msg("destination already used by another source")
	it.DestPath = dest
	it.ID = model.ItemID(it.SourceRef, dest)
	return it
}
