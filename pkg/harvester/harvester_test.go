package harvester

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xharvest/pkg/browser"
	"xharvest/pkg/config"
	"xharvest/pkg/credentials"
	"xharvest/pkg/errors"
	"xharvest/pkg/logger"
	"xharvest/pkg/ratelimit"
	"xharvest/pkg/session"
)

// mockEngine returns canned sessions or errors per username and
// records the order accounts were attempted in
type mockEngine struct {
	sessions map[string]*browser.Session
	errs     map[string]error
	calls    []string
}

func (m *mockEngine) ExtractSession(_ context.Context, cred credentials.Credential) (*browser.Session, error) {
	m.calls = append(m.calls, cred.Username)
	if err, ok := m.errs[cred.Username]; ok {
		return nil, err
	}
	if sess, ok := m.sessions[cred.Username]; ok {
		return sess, nil
	}
	return nil, errors.New(errors.ErrorTypeInvalidToken, "no ct0 cookie after bootstrap wait")
}

func fullSession(username string) *browser.Session {
	return &browser.Session{
		Username:  username,
		AuthToken: "TOKEN_" + username,
		CT0:       "csrf_" + username,
		Twid:      "u%3D42",
		GuestID:   "v1%3A42",
	}
}

func newTestHarvester(t *testing.T, engine Engine) (*Harvester, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Output.Path = filepath.Join(t.TempDir(), "cookies.json")

	h := New(cfg)
	h.engine = engine
	h.limiter = ratelimit.Unlimited{}
	h.logger = logger.GetLogger()
	return h, cfg.Output.Path
}

func readOutput(t *testing.T, path string) []map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []map[string]string
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestRunPartialSuccess(t *testing.T) {
	// alice's token is valid, bob's is not
	engine := &mockEngine{
		sessions: map[string]*browser.Session{"alice": fullSession("alice")},
		errs: map[string]error{
			"bob": errors.New(errors.ErrorTypeInvalidToken, "no ct0 cookie after bootstrap wait"),
		},
	}
	h, outPath := newTestHarvester(t, engine)

	creds := []credentials.Credential{
		{Username: "alice", AuthToken: "TOKEN1"},
		{Username: "bob", AuthToken: "TOKEN2"},
	}

	report := h.Run(context.Background(), creds, nil)

	require.NoError(t, report.Fatal)
	require.Len(t, report.Sessions, 1)
	require.Len(t, report.Failures, 1)

	assert.Equal(t, "bob", report.Failures[0].Username)
	assert.Equal(t, errors.ErrorTypeInvalidToken, report.Failures[0].Kind)

	records := readOutput(t, outPath)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0]["username"])
	for _, field := range []string{"username", "auth_token", "ct0", "twid", "guest_id"} {
		assert.NotEmpty(t, records[0][field], "field %s should be populated", field)
	}

	// Partial success counts as success
	assert.Equal(t, 0, report.ExitCode())
}

func TestRunAccountingProperty(t *testing.T) {
	// records + failures must equal valid input lines
	engine := &mockEngine{
		sessions: map[string]*browser.Session{
			"alice": fullSession("alice"),
			"carol": fullSession("carol"),
		},
		errs: map[string]error{
			"bob": errors.New(errors.ErrorTypeTimeout, "bootstrap wait cancelled"),
		},
	}
	h, _ := newTestHarvester(t, engine)

	creds := []credentials.Credential{
		{Username: "alice", AuthToken: "T1"},
		{Username: "bob", AuthToken: "T2"},
		{Username: "carol", AuthToken: "T3"},
	}

	report := h.Run(context.Background(), creds, nil)

	assert.Equal(t, len(creds), len(report.Sessions)+len(report.Failures))
	assert.Equal(t, []string{"alice", "bob", "carol"}, engine.calls)
}

func TestRunAllFailed(t *testing.T) {
	engine := &mockEngine{}
	h, outPath := newTestHarvester(t, engine)

	creds := []credentials.Credential{
		{Username: "alice", AuthToken: "T1"},
		{Username: "bob", AuthToken: "T2"},
	}

	report := h.Run(context.Background(), creds, nil)

	require.NoError(t, report.Fatal)
	assert.Empty(t, report.Sessions)
	assert.Len(t, report.Failures, 2)

	// Every attempted account failed
	assert.Equal(t, 1, report.ExitCode())

	// An empty list is still written
	records := readOutput(t, outPath)
	assert.Empty(t, records)
}

func TestRunEmptyBatch(t *testing.T) {
	engine := &mockEngine{}
	h, outPath := newTestHarvester(t, engine)

	report := h.Run(context.Background(), nil, nil)

	require.NoError(t, report.Fatal)
	assert.Equal(t, 0, report.ExitCode())
	assert.Empty(t, engine.calls)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestRunCancelledBeforeStartKeepsPriorOutput(t *testing.T) {
	// An interrupt before the first account must not replace an
	// earlier run's results with an empty list
	engine := &mockEngine{
		sessions: map[string]*browser.Session{"alice": fullSession("alice")},
	}
	h, outPath := newTestHarvester(t, engine)

	prior := "[\n  {\n    \"username\": \"earlier\"\n  }\n]\n"
	require.NoError(t, os.WriteFile(outPath, []byte(prior), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	creds := []credentials.Credential{
		{Username: "alice", AuthToken: "T1"},
		{Username: "bob", AuthToken: "T2"},
	}

	report := h.Run(ctx, creds, nil)

	require.Error(t, report.Fatal)
	assert.Equal(t, 1, report.ExitCode())
	assert.Empty(t, engine.calls)
	assert.Equal(t, []string{"alice", "bob"}, report.Skipped)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, prior, string(data))
}

func TestRunBrowserLaunchFailureAborts(t *testing.T) {
	engine := &mockEngine{
		sessions: map[string]*browser.Session{"alice": fullSession("alice")},
		errs: map[string]error{
			"bob": errors.New(errors.ErrorTypeBrowserLaunch, "start browser"),
		},
	}
	h, outPath := newTestHarvester(t, engine)

	creds := []credentials.Credential{
		{Username: "alice", AuthToken: "T1"},
		{Username: "bob", AuthToken: "T2"},
		{Username: "carol", AuthToken: "T3"},
	}

	report := h.Run(context.Background(), creds, nil)

	require.Error(t, report.Fatal)
	assert.Equal(t, errors.ErrorTypeBrowserLaunch, errors.GetType(report.Fatal))
	assert.Equal(t, 1, report.ExitCode())

	// carol was never attempted
	assert.Equal(t, []string{"alice", "bob"}, engine.calls)
	assert.Equal(t, []string{"carol"}, report.Skipped)

	// alice's finished work is still written
	records := readOutput(t, outPath)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0]["username"])
}

func TestRunNeverEmitsEmptyCT0(t *testing.T) {
	// An engine that cannot produce ct0 yields failures, not records
	engine := &mockEngine{
		errs: map[string]error{
			"alice": errors.New(errors.ErrorTypeInvalidToken, "no ct0 cookie after bootstrap wait"),
			"bob":   errors.New(errors.ErrorTypeTimeout, "bootstrap wait cancelled"),
		},
	}
	h, outPath := newTestHarvester(t, engine)

	creds := []credentials.Credential{
		{Username: "alice", AuthToken: "T1"},
		{Username: "bob", AuthToken: "T2"},
	}

	report := h.Run(context.Background(), creds, nil)

	assert.Empty(t, report.Sessions)
	records := readOutput(t, outPath)
	assert.Empty(t, records)
}

func TestRunDeterministicOutput(t *testing.T) {
	creds := []credentials.Credential{
		{Username: "alice", AuthToken: "T1"},
		{Username: "bob", AuthToken: "T2"},
	}

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		engine := &mockEngine{
			sessions: map[string]*browser.Session{
				"alice": fullSession("alice"),
				"bob":   fullSession("bob"),
			},
		}
		h, outPath := newTestHarvester(t, engine)
		report := h.Run(context.Background(), creds, nil)
		require.NoError(t, report.Fatal)

		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}

	// Identical input and cookie jars produce byte-identical output
	assert.Equal(t, outputs[0], outputs[1])
}

func TestRunSavesToStore(t *testing.T) {
	engine := &mockEngine{
		sessions: map[string]*browser.Session{"alice": fullSession("alice")},
	}
	h, _ := newTestHarvester(t, engine)

	store := session.NewMockStore()
	h.SetStore(store)

	report := h.Run(context.Background(), []credentials.Credential{{Username: "alice", AuthToken: "T1"}}, nil)
	require.NoError(t, report.Fatal)

	saved, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "csrf_alice", saved.CT0)
}

func TestRunStoreFailureDoesNotAbort(t *testing.T) {
	engine := &mockEngine{
		sessions: map[string]*browser.Session{"alice": fullSession("alice")},
	}
	h, _ := newTestHarvester(t, engine)

	store := session.NewMockStore()
	store.SaveErr = os.ErrPermission
	h.SetStore(store)

	report := h.Run(context.Background(), []credentials.Credential{{Username: "alice", AuthToken: "T1"}}, nil)

	require.NoError(t, report.Fatal)
	assert.Len(t, report.Sessions, 1)
	assert.Equal(t, 0, report.ExitCode())
}

func TestRunOutputWriteFailureIsFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	engine := &mockEngine{
		sessions: map[string]*browser.Session{"alice": fullSession("alice")},
	}
	h, _ := newTestHarvester(t, engine)

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0500))
	defer os.Chmod(dir, 0700)
	h.config.Output.Path = filepath.Join(dir, "cookies.json")

	report := h.Run(context.Background(), []credentials.Credential{{Username: "alice", AuthToken: "T1"}}, nil)

	require.Error(t, report.Fatal)
	assert.Equal(t, errors.ErrorTypeOutputWrite, errors.GetType(report.Fatal))
	assert.Equal(t, 1, report.ExitCode())
}

func TestRunCarriesParseErrors(t *testing.T) {
	engine := &mockEngine{
		sessions: map[string]*browser.Session{"alice": fullSession("alice")},
	}
	h, _ := newTestHarvester(t, engine)

	parseErrs := []credentials.ParseError{
		{LineNumber: 2, Text: "justausername", Err: errors.New(errors.ErrorTypeMalformedLine, "expected username and auth_token, got 1 field(s)")},
	}

	report := h.Run(context.Background(), []credentials.Credential{{Username: "alice", AuthToken: "T1"}}, parseErrs)

	require.Len(t, report.ParseErrors, 1)
	assert.Equal(t, 2, report.ParseErrors[0].LineNumber)
	// Malformed lines alone do not fail the run
	assert.Equal(t, 0, report.ExitCode())
}
