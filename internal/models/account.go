package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthMethod identifies one authentication channel of an account
type AuthMethod string

const (
	MethodCookies AuthMethod = "cookies"
	MethodGitHub  AuthMethod = "github"
	MethodLinuxDo AuthMethod = "linux.do"
)

// MethodOrder is the fixed order in which configured methods are attempted
var MethodOrder = []AuthMethod{MethodCookies, MethodGitHub, MethodLinuxDo}

// Credential is a username/password pair for an identity provider
type Credential struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Complete reports whether both fields are present
func (c *Credential) Complete() bool {
	return c != nil && c.Username != "" && c.Password != ""
}

// CookieSpec holds static cookies either as a map or as a "k=v; k=v" string
type CookieSpec struct {
	Map map[string]string
	Raw string
}

// IsEmpty reports whether no cookie value was configured
func (c CookieSpec) IsEmpty() bool {
	return len(c.Map) == 0 && strings.TrimSpace(c.Raw) == ""
}

// Resolve returns the cookies as a map, parsing the string form
func (c CookieSpec) Resolve() map[string]string {
	if len(c.Map) > 0 {
		return copyMap(c.Map)
	}
	return ParseCookieString(c.Raw)
}

// ParseCookieString splits a "k=v; k=v" header value. Entries without '=' are ignored.
func ParseCookieString(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}

func (c *CookieSpec) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		c.Raw = raw
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("cookies must be a string or an object: %w", err)
	}
	c.Map = stringifyMap(m)
	return nil
}

func (c *CookieSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Raw = node.Value
		return nil
	}
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("cookies must be a string or a mapping: %w", err)
	}
	c.Map = stringifyMap(m)
	return nil
}

func (c CookieSpec) MarshalJSON() ([]byte, error) {
	if c.Map != nil {
		return json.Marshal(c.Map)
	}
	return json.Marshal(c.Raw)
}

// Extra is the open-ended per-account side channel for provider specific inputs.
//
// Known keys:
//
//	fuli_cookies  map or cookie string for fuli.hxi.me (runawaytime sources)
//	access_token  bearer token for qd.x666.me (x666 source)
//	cdks          list of externally supplied codes (static source)
//	global_proxy  proxy inherited from configuration when the account has none
type Extra map[string]any

// String returns the value as a string, or def when absent or empty
func (e Extra) String(key, def string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprintf("%v", v)
}

// Bool returns the value as a bool, or def
func (e Extra) Bool(key string, def bool) bool {
	switch t := e[key].(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// Int returns the value as an int, or def
func (e Extra) Int(key string, def int) int {
	switch t := e[key].(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// Strings returns a list value; a single string becomes a one element list
func (e Extra) Strings(key string) []string {
	var raw []string
	switch t := e[key].(type) {
	case string:
		raw = []string{t}
	case []string:
		raw = t
	case []any:
		for _, v := range t {
			if v != nil {
				raw = append(raw, fmt.Sprintf("%v", v))
			}
		}
	}

	var out []string
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Cookies returns a cookie value that may be stored as a map or a cookie string
func (e Extra) Cookies(key string) CookieSpec {
	switch t := e[key].(type) {
	case string:
		return CookieSpec{Raw: t}
	case map[string]string:
		return CookieSpec{Map: t}
	case map[string]any:
		return CookieSpec{Map: stringifyMap(t)}
	}
	return CookieSpec{}
}

// Account is one configured account, the AccountConfig of the data model
type Account struct {
	Index    int         `json:"-" yaml:"-"`
	Provider string      `json:"provider" yaml:"provider"`
	Name     string      `json:"name,omitempty" yaml:"name,omitempty"`
	Cookies  CookieSpec  `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	APIUser  string      `json:"api_user,omitempty" yaml:"api_user,omitempty"`
	GitHub   *Credential `json:"github,omitempty" yaml:"github,omitempty"`
	LinuxDo  *Credential `json:"linux.do,omitempty" yaml:"linux.do,omitempty"`
	Proxy    string      `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Extra    Extra       `json:"-" yaml:"-"`
}

// Key is the stable per-run key used for balance hashing
func (a *Account) Key() string {
	return fmt.Sprintf("account_%d", a.Index+1)
}

// DisplayName returns the configured name or "Account N"
func (a *Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("Account %d", a.Index+1)
}

// EffectiveProxy returns the account proxy, falling back to the global one
func (a *Account) EffectiveProxy() string {
	if a.Proxy != "" {
		return a.Proxy
	}
	return a.Extra.String("global_proxy", "")
}

// Methods returns the configured methods in attempt order
func (a *Account) Methods() []AuthMethod {
	var methods []AuthMethod
	for _, m := range MethodOrder {
		switch m {
		case MethodCookies:
			if !a.Cookies.IsEmpty() {
				methods = append(methods, m)
			}
		case MethodGitHub:
			if a.GitHub != nil {
				methods = append(methods, m)
			}
		case MethodLinuxDo:
			if a.LinuxDo != nil {
				methods = append(methods, m)
			}
		}
	}
	return methods
}

// Credential returns the identity credential for an OAuth method
func (a *Account) Credential(method AuthMethod) *Credential {
	switch method {
	case MethodGitHub:
		return a.GitHub
	case MethodLinuxDo:
		return a.LinuxDo
	}
	return nil
}

// Validate checks the account shape before any network I/O
func (a *Account) Validate() error {
	if a.Cookies.IsEmpty() && a.GitHub == nil && a.LinuxDo == nil {
		return NewConfigError("account must have either 'linux.do', 'github', or 'cookies' configuration")
	}
	return nil
}

var accountKnownKeys = map[string]bool{
	"provider": true, "name": true, "cookies": true, "api_user": true,
	"github": true, "linux.do": true, "proxy": true,
}

// UnmarshalJSON decodes the known keys and keeps every other key in Extra
func (a *Account) UnmarshalJSON(data []byte) error {
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	// api_user is frequently written as a number
	if n, ok := all["api_user"].(float64); ok {
		all["api_user"] = strconv.FormatFloat(n, 'f', -1, 64)
		normalized, err := json.Marshal(all)
		if err != nil {
			return err
		}
		data = normalized
	}

	type plain Account
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Account(p)
	a.Extra = collectExtra(all)
	return nil
}

func (a *Account) UnmarshalYAML(node *yaml.Node) error {
	type plain Account
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	var all map[string]any
	if err := node.Decode(&all); err != nil {
		return err
	}
	*a = Account(p)
	a.Extra = collectExtra(all)
	return nil
}

func collectExtra(all map[string]any) Extra {
	extra := Extra{}
	for k, v := range all {
		if accountKnownKeys[k] {
			continue
		}
		if k == "extra" {
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range nested {
					extra[nk] = nv
				}
				continue
			}
		}
		extra[k] = v
	}
	return extra
}

func stringifyMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
