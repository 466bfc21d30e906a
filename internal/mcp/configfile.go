package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"cmdloop/internal/config"
)

const serversKey = "mcpServers"

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerConfig describes one capability server. Fields left out of the file
// stay out when it is saved again, and keys this type does not know about
// are carried through unchanged.
type ServerConfig struct {
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
	Transport string            `json:"transport,omitempty"` // "stdio" (default) | "http"
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"` // http only

	raw map[string]json.RawMessage
}

// IsEnabled treats an absent flag as enabled.
func (c ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TransportKind returns the transport, defaulting to stdio.
func (c ServerConfig) TransportKind() string {
	if c.Transport == "" {
		return TransportStdio
	}
	return c.Transport
}

// Expanded returns a copy with ${VAR} references in env and header values
// and in the url replaced from the environment. The file keeps the
// references.
func (c ServerConfig) Expanded() ServerConfig {
	out := c
	out.URL = config.ExpandEnvVars(c.URL)
	out.Env = expandValues(c.Env)
	out.Headers = expandValues(c.Headers)
	return out
}

func expandValues(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = config.ExpandEnvVars(v)
	}
	return out
}

// Validate checks the fields required by the selected transport.
func (c ServerConfig) Validate() error {
	switch c.TransportKind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio server requires command")
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("http server requires url")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// SetEnabled records an explicit enabled flag.
func (c *ServerConfig) SetEnabled(on bool) {
	c.Enabled = &on
}

type serverConfigFields ServerConfig

func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var fields serverConfigFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*c = ServerConfig(fields)
	c.raw = raw
	return nil
}

func (c ServerConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.raw)+7)
	for k, v := range c.raw {
		out[k] = v
	}
	for _, err := range []error{
		putField(out, c.raw, "command", c.Command),
		putField(out, c.raw, "args", c.Args),
		putField(out, c.raw, "env", c.Env),
		putField(out, c.raw, "enabled", c.Enabled),
		putField(out, c.raw, "transport", c.Transport),
		putField(out, c.raw, "url", c.URL),
		putField(out, c.raw, "headers", c.Headers),
	} {
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// putField writes v under key. An unchanged value keeps its original bytes,
// and an empty value that was absent stays absent.
func putField[T any](out, raw map[string]json.RawMessage, key string, v T) error {
	if orig, ok := raw[key]; ok {
		var prev T
		if err := json.Unmarshal(orig, &prev); err == nil {
			if (isEmpty(prev) && isEmpty(v)) || reflect.DeepEqual(prev, v) {
				out[key] = orig
				return nil
			}
		}
	}
	if isEmpty(v) {
		delete(out, key)
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	out[key] = data
	return nil
}

func isEmpty(v any) bool {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}

// File is the capability-server configuration file.
type File struct {
	Servers map[string]ServerConfig
	extra   map[string]json.RawMessage
}

// LoadFile reads path. A missing file yields an empty configuration.
func LoadFile(path string) (*File, error) {
	f := &File{Servers: make(map[string]ServerConfig)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp config %s: %w", path, err)
	}
	if err := f.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	return f, nil
}

func (f *File) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	servers := make(map[string]ServerConfig)
	if raw, ok := top[serversKey]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return fmt.Errorf("%s: %w", serversKey, err)
		}
	}
	delete(top, serversKey)
	f.Servers = servers
	f.extra = top
	return nil
}

func (f *File) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.extra)+1)
	for k, v := range f.extra {
		out[k] = v
	}
	servers := f.Servers
	if servers == nil {
		servers = map[string]ServerConfig{}
	}
	out[serversKey] = servers
	return json.Marshal(out)
}

// Save writes the file atomically.
func (f *File) Save(path string) error {
	body, err := f.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal mcp config: %w", err)
	}
	var pretty map[string]json.RawMessage
	if err := json.Unmarshal(body, &pretty); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create mcp config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write mcp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace mcp config: %w", err)
	}
	return nil
}

// Names returns server names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Servers))
	for name := range f.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
