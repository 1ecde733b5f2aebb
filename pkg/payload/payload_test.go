package payload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var rec = &recorder{}

type greeting struct {
	Name string `json:"name"`
}

func (g *greeting) Perform(ctx context.Context) error {
	rec.add("hello " + g.Name)
	return nil
}

type mailer struct {
	From string `json:"from"`
}

func (m *mailer) Send(ctx context.Context, to string, n int) error {
	rec.add(strings.Repeat(m.From+"->"+to+";", n))
	return nil
}

func (m *mailer) Notify(s *story) {
	rec.add(m.From + " notifies " + s.Title)
}

type story struct {
	ID    string
	Title string
}

func (s *story) EntityID() string { return s.ID }

func (s *story) Publish(ctx context.Context) error {
	rec.add("published " + s.Title)
	return nil
}

type storyTable struct {
	mu   sync.Mutex
	rows map[string]*story
}

func (t *storyTable) find(_ context.Context, id string) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.rows[id]
	if !ok {
		return nil, core.ErrEntityNotFound
	}
	return &story{ID: s.ID, Title: s.Title}, nil
}

func newStoryRegistry(t *testing.T) (*Registry, *storyTable) {
	t.Helper()
	table := &storyTable{rows: map[string]*story{"1": {ID: "1", Title: "Go 2"}}}
	reg := NewRegistry()
	require.NoError(t, reg.RegisterEntity("blog.Story", &story{}, table.find))
	return reg, table
}

func resetRecorder(t *testing.T) {
	t.Helper()
	rec.mu.Lock()
	rec.calls = nil
	rec.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Plain descriptors
// ---------------------------------------------------------------------------

func TestEncodeDecode_PlainValue(t *testing.T) {
	resetRecorder(t)
	reg := NewRegistry()
	require.NoError(t, reg.Register("greeting", &greeting{}))

	blob, err := reg.Encode(&greeting{Name: "ada"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"greeting","payload":{"name":"ada"}}`, blob)

	p, err := reg.Decode(blob)
	require.NoError(t, err)
	require.IsType(t, &greeting{}, p)
	assert.Equal(t, "ada", p.(*greeting).Name)

	require.NoError(t, p.Perform(context.Background()))
	assert.Equal(t, []string{"hello ada"}, rec.all())
}

func TestEncode_DefaultTag(t *testing.T) {
	reg := NewRegistry()

	blob, err := reg.Encode(&greeting{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "payload.greeting", ExtractTag(blob))
	assert.True(t, reg.Known("payload.greeting"))
}

func TestEncode_RejectsNonPerformable(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Encode(struct{ A int }{1})
	var argErr *core.ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, argErr.Reason, "Perform")

	_, err = reg.Encode(nil)
	require.ErrorAs(t, err, &argErr)
}

func TestRegister_RejectsInvalidTag(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("1bad tag", &greeting{})
	assert.ErrorIs(t, err, core.ErrInvalidTypeName)
}

// ---------------------------------------------------------------------------
// Decode failures and resolver
// ---------------------------------------------------------------------------

func TestDecode_UnknownTypeWithoutResolver(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Decode(`{"type":"billing.Invoice","payload":{}}`)
	var de *core.DeserializationError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "billing.Invoice", de.Tag)
	assert.Contains(t, err.Error(), "job failed to load")
}

func TestDecode_ResolverTriesSimpleNameThenFullName(t *testing.T) {
	source := NewRegistry()
	require.NoError(t, source.Register("billing.Invoice", &greeting{}))
	blob, err := source.Encode(&greeting{Name: "inv"})
	require.NoError(t, err)

	reg := NewRegistry()
	var asked []string
	reg.SetResolver(ResolverFunc(func(name string) error {
		asked = append(asked, name)
		if name == "billing.Invoice" {
			return reg.Register(name, &greeting{})
		}
		return nil
	}))

	p, err := reg.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "inv", p.(*greeting).Name)
	assert.Equal(t, []string{"Invoice", "billing.Invoice"}, asked)
}

func TestDecode_ResolverSimpleNameIsEnough(t *testing.T) {
	reg := NewRegistry()
	var asked []string
	reg.SetResolver(ResolverFunc(func(name string) error {
		asked = append(asked, name)
		return reg.Register("billing.Invoice", &greeting{})
	}))

	_, err := reg.Decode(`{"type":"billing.Invoice","payload":{"name":"a"}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Invoice"}, asked)
}

func TestDecode_ResolverErrorIsWrapped(t *testing.T) {
	boom := errors.New("no such file")
	reg := NewRegistry()
	reg.SetResolver(ResolverFunc(func(string) error { return boom }))

	_, err := reg.Decode(`{"type":"billing.Invoice","payload":{}}`)
	var de *core.DeserializationError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, boom)
}

func TestDecode_MalformedBlobOfKnownType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("greeting", &greeting{}))

	_, err := reg.Decode(`{"type":"greeting","payload":{`)
	var de *core.DeserializationError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "greeting", de.Tag)
}

func TestDecode_Garbage(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Decode("not json at all")
	var de *core.DeserializationError
	require.ErrorAs(t, err, &de)
	assert.Empty(t, de.Tag)
}

// ---------------------------------------------------------------------------
// Method calls
// ---------------------------------------------------------------------------

func TestMethodCall_PlainArgsRoundTrip(t *testing.T) {
	resetRecorder(t)
	reg := NewRegistry()

	mc, err := reg.NewMethodCall(&mailer{From: "ops"}, "Send", "bob", 2)
	require.NoError(t, err)

	blob, err := reg.Encode(mc)
	require.NoError(t, err)
	assert.Equal(t, MethodCallTag, ExtractTag(blob))
	assert.Equal(t, "payload.mailer#Send", DisplayName(blob))

	p, err := reg.Decode(blob)
	require.NoError(t, err)
	require.NoError(t, p.Perform(context.Background()))
	assert.Equal(t, []string{"ops->bob;ops->bob;"}, rec.all())
}

func TestMethodCall_EntityTarget(t *testing.T) {
	resetRecorder(t)
	reg, _ := newStoryRegistry(t)

	mc, err := reg.NewMethodCall(&story{ID: "1", Title: "stale title"}, "Publish")
	require.NoError(t, err)
	assert.Equal(t, "ref:blog.Story:1", mc.Target.Ref)
	assert.Equal(t, "blog.Story#Publish", mc.DisplayName())

	blob, err := reg.Encode(mc)
	require.NoError(t, err)
	assert.NotContains(t, blob, "stale title")

	p, err := reg.Decode(blob)
	require.NoError(t, err)
	require.NoError(t, p.Perform(context.Background()))
	assert.Equal(t, []string{"published Go 2"}, rec.all())
}

func TestMethodCall_DeletedEntityIsNoop(t *testing.T) {
	resetRecorder(t)
	reg, table := newStoryRegistry(t)

	mc, err := reg.NewMethodCall(&story{ID: "1"}, "Publish")
	require.NoError(t, err)
	blob, err := reg.Encode(mc)
	require.NoError(t, err)

	table.mu.Lock()
	delete(table.rows, "1")
	table.mu.Unlock()

	p, err := reg.Decode(blob)
	require.NoError(t, err)
	assert.NoError(t, p.Perform(context.Background()))
	assert.Empty(t, rec.all())
}

func TestMethodCall_NilEntityFromFinderIsNoop(t *testing.T) {
	resetRecorder(t)
	reg := NewRegistry()
	require.NoError(t, reg.RegisterEntity("blog.Story", &story{}, func(context.Context, string) (any, error) {
		return (*story)(nil), nil
	}))

	mc, err := reg.NewMethodCall(&story{ID: "1"}, "Publish")
	require.NoError(t, err)
	blob, err := reg.Encode(mc)
	require.NoError(t, err)

	p, err := reg.Decode(blob)
	require.NoError(t, err)
	assert.NoError(t, p.Perform(context.Background()))
	assert.Empty(t, rec.all())
}

func TestMethodCall_EntityArgument(t *testing.T) {
	resetRecorder(t)
	reg, table := newStoryRegistry(t)

	mc, err := reg.NewMethodCall(&mailer{From: "ed"}, "Notify", &story{ID: "1"})
	require.NoError(t, err)
	require.Len(t, mc.Args, 1)
	assert.Equal(t, "ref:blog.Story:1", mc.Args[0].Ref)

	blob, err := reg.Encode(mc)
	require.NoError(t, err)
	p, err := reg.Decode(blob)
	require.NoError(t, err)
	require.NoError(t, p.Perform(context.Background()))
	assert.Equal(t, []string{"ed notifies Go 2"}, rec.all())

	table.mu.Lock()
	delete(table.rows, "1")
	table.mu.Unlock()
	assert.NoError(t, p.Perform(context.Background()))
	assert.Len(t, rec.all(), 1)
}

func TestNewMethodCall_Validation(t *testing.T) {
	reg := NewRegistry()
	var argErr *core.ArgumentError

	_, err := reg.NewMethodCall(nil, "Send")
	require.ErrorAs(t, err, &argErr)

	_, err = reg.NewMethodCall(&mailer{}, "Missing")
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, argErr.Reason, "undefined method")

	_, err = reg.NewMethodCall(&mailer{}, "Send", "only-one")
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, argErr.Reason, "takes 2 arguments")
}

func TestNewMethodCall_PointerMethodOnValue(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.NewMethodCall(mailer{From: "v"}, "Send", "x", 1)
	assert.NoError(t, err)
}

func TestMethodCall_PerformWithoutRegistry(t *testing.T) {
	mc := &MethodCall{Method: "Send"}
	assert.Error(t, mc.Perform(context.Background()))
}

// ---------------------------------------------------------------------------
// Names and references
// ---------------------------------------------------------------------------

func TestRef(t *testing.T) {
	r := Ref{Type: "blog.Story", ID: "a:b"}
	assert.Equal(t, "ref:blog.Story:a:b", r.String())

	parsed, err := ParseRef(r.String())
	require.NoError(t, err)
	assert.Equal(t, r, parsed)

	_, err = ParseRef("blog.Story:1")
	assert.Error(t, err)
}

func TestSimpleName(t *testing.T) {
	assert.Equal(t, "Invoice", SimpleName("billing.Invoice"))
	assert.Equal(t, "Invoice", SimpleName("Invoice"))
}

func TestNameOf(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("greeting", &greeting{}))
	assert.Equal(t, "greeting", reg.NameOf(&greeting{}))

	mc := &MethodCall{Target: Arg{Type: "payload.mailer"}, Method: "Send"}
	assert.Equal(t, "payload.mailer#Send", reg.NameOf(mc))
}

func TestDisplayName_Unreadable(t *testing.T) {
	assert.Equal(t, "greeting", DisplayName(`{"type":"greeting",`))
	assert.Equal(t, "unknown", DisplayName("???"))
}
