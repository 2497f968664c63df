package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"asset-harvester/internal/model"
	"asset-harvester/internal/runstore"
)

type LoadOptions struct {
	// ConfigPath is an explicit settings file; it must exist. When empty,
	// HARVEST_CONFIG or ./harvest.json are used if present.
	ConfigPath string
	// EnvFile is loaded into the process environment when it exists.
	// Variables already set are not overridden.
	EnvFile   string
	Overrides []Override
	LookupEnv func(string) (string, bool)
}

type Override struct {
	Name  string
	Value string
}

// Load resolves defaults, then the settings file, then the environment, then
// overrides. The result is normalized and validated.
func Load(opts LoadOptions) (Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.EnvFile != "" {
		if err := loadEnvFile(opts.EnvFile); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		if v, ok := lookup(EnvPrefix + "CONFIG"); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path == "" && fileExists(DefaultFileName) {
		path = DefaultFileName
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	for _, o := range opts.Overrides {
		if err := cfg.Set(o.Name, o.Value); err != nil {
			return Config{}, err
		}
	}

	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func loadEnvFile(path string) error {
	if !fileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return model.Wrap(model.ErrConfig, path, err)
	}
	return nil
}

// LoadFile applies the options found in a harvest.json file.
func (c *Config) LoadFile(path string) error {
	raw := map[string]json.RawMessage{}
	if err := runstore.ReadJSON(path, &raw); err != nil {
		return model.Wrap(model.ErrConfig, path, err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		o, ok := lookupOption(key)
		if !ok {
			return model.Wrap(model.ErrConfig, path, fmt.Errorf("unknown option %q", key))
		}
		value, err := jsonValue(raw[key])
		if err != nil {
			return model.Wrap(model.ErrConfig, path, fmt.Errorf("%s: %w", key, err))
		}
		if err := o.set(c, value); err != nil {
			return model.Wrap(model.ErrConfig, path, fmt.Errorf("%s: %w", key, err))
		}
	}
	c.File = path
	return nil
}

func jsonValue(data json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return "", errors.New("list entries must be strings")
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n"), nil
	default:
		return "", fmt.Errorf("unsupported value %s", string(data))
	}
}

// ApplyEnv applies HARVEST_* variables. GOOGLE_APPLICATION_CREDENTIALS is a
// fallback for the Drive credentials file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range options {
		v, ok := lookup(envName(o.Name))
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.set(c, v); err != nil {
			return model.Wrap(model.ErrConfig, envName(o.Name), err)
		}
	}
	if c.DriveCredentials == "" {
		if v, ok := lookup("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.DriveCredentials = strings.TrimSpace(v)
		}
	}
	return nil
}

// UpdateFile writes option values into a settings file, keeping unrelated
// keys. An empty value removes the key.
func UpdateFile(path string, updates []Override) error {
	doc := map[string]any{}
	if fileExists(path) {
		if err := runstore.ReadJSON(path, &doc); err != nil {
			return model.Wrap(model.ErrConfig, path, err)
		}
	}
	for _, u := range updates {
		o, ok := lookupOption(u.Name)
		if !ok {
			return model.Wrap(model.ErrConfig, u.Name, fmt.Errorf("unknown option"))
		}
		if strings.TrimSpace(u.Value) == "" {
			delete(doc, o.Name)
			continue
		}
		scratch := Default()
		if err := o.set(&scratch, u.Value); err != nil {
			return model.Wrap(model.ErrConfig, o.Name, err)
		}
		switch {
		case o.List:
			doc[o.Name] = splitList(u.Value)
		case o.Bool:
			b, _ := strconv.ParseBool(strings.TrimSpace(u.Value))
			doc[o.Name] = b
		case o.Int:
			n, _ := strconv.Atoi(strings.TrimSpace(u.Value))
			doc[o.Name] = n
		default:
			doc[o.Name] = strings.TrimSpace(u.Value)
		}
	}
	if err := runstore.WriteJSON(path, doc); err != nil {
		return model.Wrap(model.ErrPersistence, path, err)
	}
	return nil
}

// Flags binds every option to a FlagSet. Only flags given on the command line
// become overrides, so file and environment values are kept otherwise.
type Flags struct {
	ConfigPath string
	EnvFile    string
	set        map[string]string
	order      []string
}

func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{set: make(map[string]string)}
	fs.StringVar(&f.ConfigPath, "config", "", "settings file (default ./harvest.json when present)")
	fs.StringVar(&f.EnvFile, "env-file", DefaultEnvFile, "dotenv file loaded when present")
	def := Default()
	for _, o := range options {
		if o.NoFlag {
			continue
		}
		fs.Var(&flagValue{flags: f, opt: o, def: o.get(def)}, flagName(o.Name), o.Usage)
	}
	return f
}

func (f *Flags) Overrides() []Override {
	out := make([]Override, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, Override{Name: name, Value: f.set[name]})
	}
	return out
}

// Resolve loads the configuration with the parsed flags applied last.
func (f *Flags) Resolve(extra ...Override) (Config, error) {
	return Load(LoadOptions{
		ConfigPath: f.ConfigPath,
		EnvFile:    f.EnvFile,
		Overrides:  append(f.Overrides(), extra...),
	})
}

type flagValue struct {
	flags *Flags
	opt   option
	def   string
}

func (v *flagValue) String() string {
	if v == nil || v.flags == nil {
		return ""
	}
	if raw, ok := v.flags.set[v.opt.Name]; ok {
		return raw
	}
	return v.def
}

func (v *flagValue) Set(raw string) error {
	scratch := Default()
	if err := v.opt.set(&scratch, raw); err != nil {
		return err
	}
	name := v.opt.Name
	prev, seen := v.flags.set[name]
	if !seen {
		v.flags.order = append(v.flags.order, name)
	}
	if seen && v.opt.List {
		raw = prev + "," + raw
	}
	v.flags.set[name] = raw
	return nil
}

func (v *flagValue) IsBoolFlag() bool { return v.opt.Bool }
