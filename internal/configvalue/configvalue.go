// Package configvalue implements ConfigValue<T>, the deferred-resolution
// config primitive every component descriptor's config uses for any field
// that might come from an environment variable or a secret store instead of
// a literal.
//
// Resolution happens exactly once per instance build (spec.md §3 invariant);
// the resolved value is then immutable for the component's lifetime. This
// package only resolves strings — typed fields parse the resolved string
// with strconv, matching the "typed resolver" note in spec.md §3.
package configvalue

import (
	"os"
	"strconv"

	"github.com/drasi-project/drasi-server/internal/apierrors"
)

// Kind discriminates the ConfigValue variant.
type Kind int

const (
	KindStatic Kind = iota
	KindEnvironmentVariable
	KindSecret
)

// Value is a ConfigValue<String> sum type. Exactly one of the variant
// fields is meaningful, selected by Kind; this mirrors the teacher's
// struct-plus-selector style for tagged unions (see apierrors.Error's
// Code-selects-which-fields-matter shape) rather than an interface-based
// union, since the variant set is closed and small.
type Value struct {
	kind Kind

	// KindStatic
	static string

	// KindEnvironmentVariable
	envName    string
	envDefault *string

	// KindSecret
	secretName string
}

// Static builds a literal ConfigValue.
func Static(v string) Value {
	return Value{kind: KindStatic, static: v}
}

// EnvironmentVariable builds a ConfigValue resolved from an environment
// variable at instantiation time, falling back to def when set.
func EnvironmentVariable(name string, def *string) Value {
	return Value{kind: KindEnvironmentVariable, envName: name, envDefault: def}
}

// Secret builds a ConfigValue resolved from an abstract secret store.
// The store is injected at Resolve time via SecretResolver.
func Secret(name string) Value {
	return Value{kind: KindSecret, secretName: name}
}

func (v Value) Kind() Kind { return v.kind }

// SecretResolver abstracts the secret store. spec.md §1 treats secrets as
// an external collaborator; callers supply their own implementation (or
// nil, in which case Secret values always fail to resolve).
type SecretResolver interface {
	ResolveSecret(name string) (string, error)
}

// Resolve yields the concrete string value for v, per spec.md §8 invariant 3:
//   - Static(s) always yields s.
//   - EnvironmentVariable{name, default}: yields os.Getenv(name) if set and
//     non-empty, else default if present, else a Validation error. An empty
//     string counts as "unset" when a default exists (spec.md boundary
//     behavior).
//   - Secret{name}: delegates to secrets; nil resolver or lookup failure
//     surfaces as a Validation error naming the secret.
func (v Value) Resolve(secrets SecretResolver) (string, error) {
	switch v.kind {
	case KindStatic:
		return v.static, nil
	case KindEnvironmentVariable:
		if raw, ok := os.LookupEnv(v.envName); ok && raw != "" {
			return raw, nil
		}
		if v.envDefault != nil {
			return *v.envDefault, nil
		}
		return "", apierrors.Validation("environment variable " + v.envName + " is unset and has no default")
	case KindSecret:
		if secrets == nil {
			return "", apierrors.Validation("secret " + v.secretName + " cannot be resolved: no secret store configured")
		}
		val, err := secrets.ResolveSecret(v.secretName)
		if err != nil {
			return "", apierrors.Validation("secret " + v.secretName + " could not be resolved: " + err.Error())
		}
		return val, nil
	default:
		return "", apierrors.Internal(nil)
	}
}

// ResolveInt resolves v and parses the result as an int, the typed-resolver
// path spec.md §3 calls for when T is not String.
func (v Value) ResolveInt(secrets SecretResolver) (int, error) {
	s, err := v.Resolve(secrets)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(s)
	if convErr != nil {
		return 0, apierrors.InvalidConfig("expected an integer value, got " + strconv.Quote(s))
	}
	return n, nil
}

// ResolveBool resolves v and parses the result as a bool.
func (v Value) ResolveBool(secrets SecretResolver) (bool, error) {
	s, err := v.Resolve(secrets)
	if err != nil {
		return false, err
	}
	b, convErr := strconv.ParseBool(s)
	if convErr != nil {
		return false, apierrors.InvalidConfig("expected a boolean value, got " + strconv.Quote(s))
	}
	return b, nil
}

// UnmarshalYAML implements the three accepted YAML shapes for a
// ConfigValue field:
//
//	path: "/literal/value"                         # Static
//	path: { env: NAME, default: "fallback" }        # EnvironmentVariable
//	path: { secret: NAME }                          # Secret
func (v *Value) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var literal string
	if err := unmarshal(&literal); err == nil {
		*v = Static(literal)
		return nil
	}

	var shape struct {
		Env     string  `yaml:"env"`
		Default *string `yaml:"default"`
		Secret  string  `yaml:"secret"`
	}
	if err := unmarshal(&shape); err != nil {
		return err
	}
	switch {
	case shape.Env != "":
		*v = EnvironmentVariable(shape.Env, shape.Default)
	case shape.Secret != "":
		*v = Secret(shape.Secret)
	default:
		return apierrors.InvalidConfig("config value must be a literal, {env: ...} or {secret: ...}")
	}
	return nil
}

// MarshalYAML implements round-trip serialization (spec.md §8 invariant 4).
func (v Value) MarshalYAML() (interface{}, error) {
	switch v.kind {
	case KindStatic:
		return v.static, nil
	case KindEnvironmentVariable:
		return struct {
			Env     string  `yaml:"env"`
			Default *string `yaml:"default,omitempty"`
		}{Env: v.envName, Default: v.envDefault}, nil
	case KindSecret:
		return struct {
			Secret string `yaml:"secret"`
		}{Secret: v.secretName}, nil
	default:
		return nil, apierrors.Internal(nil)
	}
}
