package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/analytics"
	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/testutil"
)

type routerFixture struct {
	router *Router
	loader *Loader
	rec    *testutil.RecordingTracker
}

func newRouter(t *testing.T) *routerFixture {
	t.Helper()
	r := newRegistry(t)
	l := newLoader(t, r)
	rec := testutil.NewRecordingTracker()
	return &routerFixture{router: NewRouter(r, l, rec, logging.Discard()), loader: l, rec: rec}
}

func activeEntries(v *ShellView) []string {
	var ids []string
	for _, n := range v.Nav {
		if n.Active {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

func TestRouter_CreateShell(t *testing.T) {
	tests := []struct {
		name   string
		anchor string
		want   string
	}{
		{"empty anchor", "", "compressor"},
		{"deep link", "#merge", "merge"},
		{"bare id", "split", "split"},
		{"unknown anchor", "#nope", "compressor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouter(t)

			view, err := f.router.CreateShell(context.Background(), tt.anchor, "test-agent", 1280)
			require.NoError(t, err)
			assert.Equal(t, tt.want, view.Active)
			assert.Equal(t, "#"+tt.want, view.Anchor)
			assert.Equal(t, []string{tt.want}, activeEntries(view))
			assert.Equal(t, tt.want, view.Content.Tool)
			assert.NotEmpty(t, view.Content.HTML)
			assert.False(t, view.CanBack)

			initEvents := f.rec.Named(analytics.EventAppInitialized)
			require.Len(t, initEvents, 1)
			assert.Equal(t, map[string]string{
				"initial_tool": tt.want,
				"user_agent":   "test-agent",
				"screen_width": "1280",
			}, initEvents[0].Params)

			views := f.rec.Named(analytics.EventPageView)
			require.Len(t, views, 1)
			assert.Equal(t, "/"+tt.want, views[0].Params["page_path"])
			assert.Empty(t, f.rec.Named(analytics.EventToolSwitched))
		})
	}
}

func TestRouter_CompressorUsesRenderAndBind(t *testing.T) {
	f := newRouter(t)

	view, err := f.router.CreateShell(context.Background(), "", "", 0)
	require.NoError(t, err)

	html := string(view.Content.HTML)
	assert.Contains(t, html, `data-section="upload"`)
	assert.Contains(t, html, `data-section="results"`)
	assert.Contains(t, html, `data-section="preview" hidden`)
	assert.NotContains(t, html, `data-section="upload" hidden`)

	var ids []string
	for _, a := range view.Content.Actions {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "compress")
	assert.Contains(t, ids, "download")
}

func TestRouter_Switch(t *testing.T) {
	f := newRouter(t)
	ctx := context.Background()

	shell, err := f.router.CreateShell(ctx, "", "", 0)
	require.NoError(t, err)
	f.rec.Reset()

	view, err := f.router.Switch(ctx, shell.ID, "merge")
	require.NoError(t, err)
	assert.Equal(t, "merge", view.Active)
	assert.Equal(t, []string{"merge"}, activeEntries(view))
	assert.Contains(t, string(view.Content.HTML), `action="/api/tools/merge"`)
	assert.Contains(t, string(view.Content.HTML), "multiple")
	assert.True(t, view.CanBack)

	switched := f.rec.Named(analytics.EventToolSwitched)
	require.Len(t, switched, 1)
	assert.Equal(t, map[string]string{
		"from_tool": "compressor",
		"to_tool":   "merge",
		"tool_name": "Merge PDF",
	}, switched[0].Params)

	pv := f.rec.Named(analytics.EventPageView)
	require.Len(t, pv, 1)
	assert.Equal(t, "Merge PDF", pv[0].Params["page_title"])
	assert.Equal(t, "/merge", pv[0].Params["page_path"])
}

func TestRouter_SwitchUnknownToolLeavesShell(t *testing.T) {
	f := newRouter(t)
	ctx := context.Background()

	shell, err := f.router.CreateShell(ctx, "#split", "", 0)
	require.NoError(t, err)
	f.rec.Reset()

	_, err = f.router.Switch(ctx, shell.ID, "unknown-tool")
	assert.ErrorIs(t, err, ErrUnknownTool)

	view, err := f.router.Shell(shell.ID)
	require.NoError(t, err)
	assert.Equal(t, "split", view.Active)
	assert.Equal(t, shell.Content, view.Content)
	assert.Empty(t, f.rec.Events())
}

func TestRouter_LibraryFailureShowsErrorPanel(t *testing.T) {
	f := newRouter(t)
	ctx := context.Background()

	shell, err := f.router.CreateShell(ctx, "", "", 0)
	require.NoError(t, err)

	view, err := f.router.Switch(ctx, shell.ID, "viewer")
	var loadErr *LibraryLoadError
	require.ErrorAs(t, err, &loadErr)

	require.NotNil(t, view)
	assert.Equal(t, "compressor", view.Active)
	assert.Equal(t, []string{"compressor"}, activeEntries(view))
	assert.Equal(t, "viewer", view.Content.Tool)
	assert.Equal(t, "Failed to load PDF Viewer. Please try again.", view.Content.Error)
	assert.Contains(t, string(view.Content.HTML), "Error Loading Tool")
	assert.Contains(t, string(view.Content.HTML), "not available in this build")
	assert.False(t, view.CanBack, "a failed switch is not pushed onto the history")

	// the shell keeps working
	f.loader.RegisterProbe("fitz", func() error { return nil })
	view, err = f.router.Switch(ctx, shell.ID, "viewer")
	require.NoError(t, err)
	assert.Equal(t, "viewer", view.Active)
	assert.Empty(t, view.Content.Error)

	for _, n := range view.Nav {
		if n.ID == "pdf-to-images" {
			assert.True(t, n.Loaded)
		}
	}
}

func TestRouter_History(t *testing.T) {
	f := newRouter(t)
	ctx := context.Background()

	shell, err := f.router.CreateShell(ctx, "", "", 0)
	require.NoError(t, err)
	id := shell.ID

	_, err = f.router.Switch(ctx, id, "merge")
	require.NoError(t, err)
	_, err = f.router.Switch(ctx, id, "split")
	require.NoError(t, err)

	view, err := f.router.Back(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "merge", view.Active)
	assert.True(t, view.CanBack)
	assert.True(t, view.CanForward)

	view, err = f.router.Back(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "compressor", view.Active)

	_, err = f.router.Back(ctx, id)
	assert.ErrorIs(t, err, ErrNoHistory)

	view, err = f.router.Forward(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "merge", view.Active)

	// switching drops the forward entries
	view, err = f.router.Switch(ctx, id, "ocr-less")
	assert.ErrorIs(t, err, ErrUnknownTool)
	view, err = f.router.Switch(ctx, id, "text-extractor")
	require.NoError(t, err)
	assert.False(t, view.CanForward)

	_, err = f.router.Forward(ctx, id)
	assert.ErrorIs(t, err, ErrNoHistory)

	view, err = f.router.Back(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "merge", view.Active)
}

func TestRouter_ShellNotFound(t *testing.T) {
	f := newRouter(t)
	ctx := context.Background()

	_, err := f.router.Shell("missing")
	assert.ErrorIs(t, err, ErrShellNotFound)
	_, err = f.router.Switch(ctx, "missing", "merge")
	assert.ErrorIs(t, err, ErrShellNotFound)
	_, err = f.router.Back(ctx, "missing")
	assert.ErrorIs(t, err, ErrShellNotFound)
}

func TestRouter_CleanupShells(t *testing.T) {
	f := newRouter(t)

	_, err := f.router.CreateShell(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.router.Count())

	assert.Equal(t, 0, f.router.CleanupShells(time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, f.router.CleanupShells(time.Millisecond))
	assert.Equal(t, 0, f.router.Count())
}

func TestMount_RequiresEntryPoint(t *testing.T) {
	var area Area
	assert.ErrorIs(t, mount(struct{}{}, &area), errNoEntryPoint)
}
