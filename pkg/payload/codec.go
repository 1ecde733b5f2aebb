package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/security"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var (
	errUnknownType = errors.New("unknown handler type")

	// tagPattern pulls the tag out of a blob that no longer parses.
	tagPattern = regexp.MustCompile(`"type"\s*:\s*"([^"]+)"`)
)

// Encode serializes a descriptor into a handler blob.
func (r *Registry) Encode(descriptor any) (string, error) {
	if descriptor == nil {
		return "", &core.ArgumentError{Reason: "cannot enqueue a nil descriptor"}
	}
	if _, ok := descriptor.(core.Performable); !ok {
		return "", &core.ArgumentError{
			Reason: fmt.Sprintf("cannot enqueue %T: it does not implement Perform(context.Context) error", descriptor),
		}
	}

	tag, err := r.tagFor(descriptor)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(descriptor)
	if err != nil {
		return "", fmt.Errorf("delayed: failed to marshal %s: %w", tag, err)
	}

	blob, err := json.Marshal(envelope{Type: tag, Payload: data})
	if err != nil {
		return "", fmt.Errorf("delayed: failed to marshal envelope: %w", err)
	}
	if len(blob) > security.MaxPayloadSize {
		return "", core.ErrPayloadTooLarge
	}
	return string(blob), nil
}

// Decode reconstructs a runnable payload from a handler blob.
//
// Unknown tags are handed to the resolver, first by simple name and then,
// for namespaced tags, by the full tag, before decoding is retried once.
func (r *Registry) Decode(blob string) (core.Performable, error) {
	tag, p, err := r.build(blob)
	if p != nil {
		return p, nil
	}
	if !errors.Is(err, errUnknownType) {
		return nil, &core.DeserializationError{Tag: tag, Err: err}
	}

	if err := r.resolve(tag); err != nil {
		return nil, &core.DeserializationError{Tag: tag, Err: err}
	}

	tag, p, err = r.build(blob)
	if p != nil {
		return p, nil
	}
	return nil, &core.DeserializationError{Tag: tag, Err: err}
}

func (r *Registry) build(blob string) (string, core.Performable, error) {
	var env envelope
	parseErr := json.Unmarshal([]byte(blob), &env)
	if parseErr != nil || env.Type == "" {
		tag := ExtractTag(blob)
		if tag == "" {
			if parseErr == nil {
				parseErr = errors.New("missing type tag")
			}
			return "", nil, fmt.Errorf("unreadable payload: %w", parseErr)
		}
		if !r.Known(tag) {
			return tag, nil, errUnknownType
		}
		if parseErr == nil {
			parseErr = errors.New("missing type tag")
		}
		return tag, nil, fmt.Errorf("malformed payload: %w", parseErr)
	}

	v, ok := r.newValue(env.Type)
	if !ok {
		return env.Type, nil, errUnknownType
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, v.Interface()); err != nil {
			return env.Type, nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
	}
	if mc, ok := v.Interface().(*MethodCall); ok {
		mc.reg = r
	}

	p, ok := v.Interface().(core.Performable)
	if !ok {
		return env.Type, nil, fmt.Errorf("%s does not implement Perform", env.Type)
	}
	return env.Type, p, nil
}

func (r *Registry) resolve(tag string) error {
	if tag == "" {
		return errUnknownType
	}
	res := r.currentResolver()
	if res == nil {
		return fmt.Errorf("%w %q and no resolver installed", errUnknownType, tag)
	}

	simple := SimpleName(tag)
	err := res.Resolve(simple)
	if err == nil && r.Known(tag) {
		return nil
	}
	if simple == tag {
		return err
	}
	return res.Resolve(tag)
}

// ExtractTag finds the type tag in a blob without fully parsing it.
func ExtractTag(blob string) string {
	m := tagPattern.FindStringSubmatch(blob)
	if m == nil {
		return ""
	}
	return m[1]
}

// SimpleName strips the namespace from a tag: "billing.Invoice" -> "Invoice".
func SimpleName(tag string) string {
	if i := strings.LastIndex(tag, "."); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

// NameOf returns the log name of a decoded payload.
func (r *Registry) NameOf(p core.Performable) string {
	if dn, ok := p.(core.DisplayNamer); ok {
		return dn.DisplayName()
	}
	if tag, ok := r.TagOf(p); ok {
		return tag
	}
	return fmt.Sprintf("%T", p)
}

// DisplayName names a blob for logging without running any resolver.
func DisplayName(blob string) string {
	var env envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil || env.Type == "" {
		if tag := ExtractTag(blob); tag != "" {
			return tag
		}
		return "unknown"
	}
	if env.Type == MethodCallTag {
		var mc MethodCall
		if err := json.Unmarshal(env.Payload, &mc); err == nil {
			return mc.DisplayName()
		}
	}
	return env.Type
}
