// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/toolsmith/toolsmith/internal/archive"
	"github.com/toolsmith/toolsmith/internal/credential"
	"github.com/toolsmith/toolsmith/internal/extcmd/extcmdtest"
	"github.com/toolsmith/toolsmith/pkg/types"
)

var testRef = types.RepositoryRef{Owner: "acme", Name: "tools", Version: "v1.4.0"}

const agentCmd = "gh api repos/acme/tools/tarball/v1.4.0"

type cloneCall struct {
	url  string
	tag  string
	auth transport.AuthMethod
}

// fakeCloner fails every clone unless files is set, in which case it writes
// files into dest for any URL containing succeedOn.
type fakeCloner struct {
	mu        sync.Mutex
	calls     []cloneCall
	succeedOn string
	files     map[string]string
}

func (c *fakeCloner) CloneTag(_ context.Context, repoURL, tag, dest string, auth transport.AuthMethod) error {
	c.mu.Lock()
	c.calls = append(c.calls, cloneCall{url: repoURL, tag: tag, auth: auth})
	c.mu.Unlock()

	if c.succeedOn == "" || !strings.Contains(repoURL, c.succeedOn) {
		return errors.New("remote: Repository not found")
	}
	for rel, body := range c.files {
		p := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeCloner) Calls() []cloneCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

func noSSHKey() (transport.AuthMethod, error) { return nil, ErrNoSSHKey }

type tarballServer struct {
	*httptest.Server
	hits atomic.Int32
	auth atomic.Value
}

func newTarballServer(t *testing.T, status int, body []byte) *tarballServer {
	t.Helper()
	ts := &tarballServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		ts.auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/repos/acme/tools/tarball/v1.4.0" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestFetcher(t *testing.T, opts Options, rec *extcmdtest.Recorder, srv *tarballServer, cloner Cloner) *Fetcher {
	t.Helper()
	f, err := NewFetcher(opts,
		WithRunner(rec),
		WithClient(NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))),
		WithCloner(cloner),
		WithSSHAuth(noSSHKey),
	)
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	return f
}

func testCredential() *credential.Credential {
	c := credential.New("ghp_testtoken123", credential.SourceExplicitEnv)
	return &c
}

func TestFetch_AgentCLIShortCircuits(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x1f}, 64)
	rec := extcmdtest.NewRecorder().On(agentCmd, extcmdtest.OkBytes(payload))
	srv := newTarballServer(t, http.StatusOK, []byte("unused"))
	cloner := &fakeCloner{}
	f := newTestFetcher(t, Options{}, rec, srv, cloner)

	dest := t.TempDir()
	got, err := f.Fetch(context.Background(), testCredential(), testRef, dest)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Strategy != StrategyAgentCLI || got.Size != int64(len(payload)) || !got.Obtained() {
		t.Errorf("Fetch() = %+v, want agent-cli archive of %d bytes", got, len(payload))
	}
	if got.Path != filepath.Join(dest, ArchiveFileName) {
		t.Errorf("Path = %q", got.Path)
	}
	if n := srv.hits.Load(); n != 0 {
		t.Errorf("HTTP strategy ran %d times after agent-cli success", n)
	}
	if len(cloner.Calls()) != 0 {
		t.Errorf("git strategies ran after agent-cli success: %v", cloner.Calls())
	}
}

func TestFetch_AgentFailureFallsBackToHTTP(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("x"), 200)
	rec := extcmdtest.NewRecorder().On(agentCmd, extcmdtest.Fail(1, "HTTP 404: Not Found"))
	srv := newTarballServer(t, http.StatusOK, payload)
	cloner := &fakeCloner{}
	f := newTestFetcher(t, Options{}, rec, srv, cloner)

	got, err := f.Fetch(context.Background(), testCredential(), testRef, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Strategy != StrategyHTTP || got.Size != 200 {
		t.Errorf("Fetch() = %+v, want http archive of 200 bytes", got)
	}
	data, err := os.ReadFile(got.Path)
	if err != nil || !bytes.Equal(data, payload) {
		t.Errorf("archive content mismatch (err = %v)", err)
	}
	if auth, _ := srv.auth.Load().(string); auth != "token ghp_testtoken123" {
		t.Errorf("Authorization = %q, want token header", auth)
	}
	if len(cloner.Calls()) != 0 {
		t.Errorf("git strategies ran after http success")
	}
}

func TestFetch_ZeroByteResultsFallThrough(t *testing.T) {
	t.Parallel()

	rec := extcmdtest.NewRecorder().On(agentCmd, extcmdtest.Ok(""))
	srv := newTarballServer(t, http.StatusOK, nil)
	cloner := &fakeCloner{
		succeedOn: "https://",
		files:     map[string]string{"utils/kdiff/kdiff.sh": "#!/bin/bash\n"},
	}
	f := newTestFetcher(t, Options{}, rec, srv, cloner)

	got, err := f.Fetch(context.Background(), testCredential(), testRef, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Strategy != StrategyGitHTTPS {
		t.Fatalf("Strategy = %s, want %s", got.Strategy, StrategyGitHTTPS)
	}

	calls := cloner.Calls()
	last := calls[len(calls)-1]
	if last.url != "https://github.com/acme/tools.git" || last.tag != "v1.4.0" {
		t.Errorf("last clone = %+v", last)
	}
	basic, ok := last.auth.(*githttp.BasicAuth)
	if !ok || basic.Username != "x-access-token" || basic.Password != "ghp_testtoken123" {
		t.Errorf("git-https auth = %#v", last.auth)
	}

	tree, err := archive.Extract(context.Background(), got.Path, t.TempDir())
	if err != nil {
		t.Fatalf("Extract(repackaged clone) error = %v", err)
	}
	if !slices.Contains(tree.Entries, "utils/kdiff/kdiff.sh") {
		t.Errorf("repackaged entries = %v", tree.Entries)
	}
}

func TestFetch_ExhaustionReportsEveryStrategy(t *testing.T) {
	t.Parallel()

	rec := extcmdtest.NewRecorder().On(agentCmd, extcmdtest.Fail(4, "gh: To get started with GitHub CLI, please run: gh auth login"))
	srv := newTarballServer(t, http.StatusNotFound, nil)
	cloner := &fakeCloner{}
	f := newTestFetcher(t, Options{}, rec, srv, cloner)

	dest := t.TempDir()
	_, err := f.Fetch(context.Background(), testCredential(), testRef, dest)

	var ae *AcquisitionError
	if !errors.As(err, &ae) {
		t.Fatalf("Fetch() error = %v, want *AcquisitionError", err)
	}
	if !errors.Is(err, ErrAcquisitionFailed) {
		t.Error("AcquisitionError does not unwrap to ErrAcquisitionFailed")
	}

	var order []StrategyKind
	for _, a := range ae.Attempts {
		order = append(order, a.Strategy)
		if a.Reason == "" {
			t.Errorf("attempt %s has no reason", a.Strategy)
		}
	}
	if !slices.Equal(order, AllStrategies()) {
		t.Errorf("attempt order = %v, want %v", order, AllStrategies())
	}
	if ae.Attempts[0].ExitCode != 4 {
		t.Errorf("agent-cli ExitCode = %d, want 4", ae.Attempts[0].ExitCode)
	}
	if !strings.Contains(ae.Attempts[1].Reason, "404") {
		t.Errorf("http reason = %q, want status 404", ae.Attempts[1].Reason)
	}
	if _, statErr := os.Stat(filepath.Join(dest, ArchiveFileName)); !os.IsNotExist(statErr) {
		t.Error("failed fetch left an archive behind")
	}
	if len(ae.Remediation()) == 0 {
		t.Error("Remediation() is empty")
	}
	if strings.Contains(err.Error(), "ghp_testtoken123") {
		t.Error("error message leaked the token")
	}
}

func TestFetch_CredentialedStrategiesSkippedWithoutToken(t *testing.T) {
	t.Parallel()

	rec := extcmdtest.NewRecorder()
	srv := newTarballServer(t, http.StatusOK, []byte("data"))
	cloner := &fakeCloner{}
	f := newTestFetcher(t, Options{}, rec, srv, cloner)

	_, err := f.Fetch(context.Background(), nil, testRef, t.TempDir())
	var ae *AcquisitionError
	if !errors.As(err, &ae) {
		t.Fatalf("Fetch() error = %v, want *AcquisitionError", err)
	}
	if n := srv.hits.Load(); n != 0 {
		t.Errorf("HTTP strategy ran without a credential")
	}
	for _, a := range ae.Attempts {
		if a.Strategy.NeedsCredential() && a.Reason != "skipped: no credential" {
			t.Errorf("%s reason = %q, want skip", a.Strategy, a.Reason)
		}
	}
	for _, c := range cloner.Calls() {
		if strings.HasPrefix(c.url, "https://") {
			t.Errorf("git-https ran without a credential: %+v", c)
		}
	}
}

func TestFetch_PublicRunsAnonymously(t *testing.T) {
	t.Parallel()

	rec := extcmdtest.NewRecorder()
	srv := newTarballServer(t, http.StatusOK, []byte("anonymous tarball"))
	f := newTestFetcher(t, Options{Public: true}, rec, srv, &fakeCloner{})

	got, err := f.Fetch(context.Background(), nil, testRef, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Strategy != StrategyHTTP {
		t.Errorf("Strategy = %s, want http", got.Strategy)
	}
	if auth, _ := srv.auth.Load().(string); auth != "" {
		t.Errorf("Authorization = %q, want none", auth)
	}
}

func TestFetch_CustomOrder(t *testing.T) {
	t.Parallel()

	rec := extcmdtest.NewRecorder().On(agentCmd, extcmdtest.Ok("tarball"))
	srv := newTarballServer(t, http.StatusOK, []byte("from http"))
	f := newTestFetcher(t, Options{Order: []StrategyKind{StrategyHTTP, StrategyAgentCLI}}, rec, srv, &fakeCloner{})

	got, err := f.Fetch(context.Background(), testCredential(), testRef, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Strategy != StrategyHTTP {
		t.Errorf("Strategy = %s, want http first", got.Strategy)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("agent-cli ran after http success: %v", rec.CommandLines())
	}
}

func TestFetch_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := extcmdtest.NewRecorder()
	srv := newTarballServer(t, http.StatusOK, []byte("x"))
	f := newTestFetcher(t, Options{}, rec, srv, &fakeCloner{})

	_, err := f.Fetch(ctx, testCredential(), testRef, t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAcquisitionFailed) {
		t.Error("cancellation reported as acquisition failure")
	}
	if len(rec.Calls()) != 0 {
		t.Error("strategies ran after cancellation")
	}
}

func TestNewFetcher_RejectsInvalidOrder(t *testing.T) {
	t.Parallel()

	if _, err := NewFetcher(Options{Order: []StrategyKind{"ftp"}}); !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("NewFetcher(ftp) error = %v, want ErrInvalidStrategy", err)
	}
	if _, err := NewFetcher(Options{Order: []StrategyKind{StrategyHTTP, StrategyHTTP}}); err == nil {
		t.Error("NewFetcher(duplicate) error = nil")
	}
}

func TestTagCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want []string
	}{
		{"v1.4.0", []string{"v1.4.0", "1.4.0"}},
		{"1.4.0", []string{"1.4.0", "v1.4.0"}},
		{"release-2024", []string{"release-2024"}},
		{"v-next", []string{"v-next"}},
	}
	for _, tt := range tests {
		if got := TagCandidates(tt.tag); !slices.Equal(got, tt.want) {
			t.Errorf("TagCandidates(%q) = %v, want %v", tt.tag, got, tt.want)
		}
	}
}

func TestFetch_GitTriesTagCandidates(t *testing.T) {
	t.Parallel()

	ref := types.RepositoryRef{Owner: "acme", Name: "tools", Version: "1.4.0"}
	cloner := &fakeCloner{}
	rec := extcmdtest.NewRecorder()
	srv := newTarballServer(t, http.StatusNotFound, nil)
	f := newTestFetcher(t, Options{Order: []StrategyKind{StrategyGitHTTPS}}, rec, srv, cloner)

	_, _ = f.Fetch(context.Background(), testCredential(), ref, t.TempDir())

	var tags []string
	for _, c := range cloner.Calls() {
		tags = append(tags, c.tag)
	}
	if !slices.Equal(tags, []string{"1.4.0", "v1.4.0"}) {
		t.Errorf("cloned tags = %v", tags)
	}
}

// stallingCloner blocks until its context ends, like a server that stops
// answering mid-clone.
type stallingCloner struct {
	calls atomic.Int32
}

func (c *stallingCloner) CloneTag(ctx context.Context, _, _, _ string, _ transport.AuthMethod) error {
	c.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestFetch_CloneTimeoutFallsThrough(t *testing.T) {
	t.Parallel()

	cloner := &stallingCloner{}
	rec := extcmdtest.NewRecorder()
	srv := newTarballServer(t, http.StatusOK, []byte("tarball-bytes"))
	f := newTestFetcher(t, Options{
		Order:        []StrategyKind{StrategyGitHTTPS, StrategyHTTP},
		CloneTimeout: 50 * time.Millisecond,
	}, rec, srv, cloner)

	start := time.Now()
	got, err := f.Fetch(context.Background(), testCredential(), testRef, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Strategy != StrategyHTTP {
		t.Errorf("Strategy = %s, want http after the clone timed out", got.Strategy)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Fetch took %v, clone timeout not applied", elapsed)
	}
	// The deadline covers every tag candidate, so only the first one runs.
	if n := cloner.calls.Load(); n != 1 {
		t.Errorf("clone attempts = %d, want 1", n)
	}
}

func TestFetch_CloneTimeoutReason(t *testing.T) {
	t.Parallel()

	rec := extcmdtest.NewRecorder()
	srv := newTarballServer(t, http.StatusNotFound, nil)
	f := newTestFetcher(t, Options{
		Order:        []StrategyKind{StrategyGitHTTPS},
		CloneTimeout: 20 * time.Millisecond,
	}, rec, srv, &stallingCloner{})

	_, err := f.Fetch(context.Background(), testCredential(), testRef, t.TempDir())
	var acq *AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("Fetch() error = %v, want *AcquisitionError", err)
	}
	if len(acq.Attempts) != 1 || !strings.Contains(acq.Attempts[0].Reason, "clone timed out after 20ms") {
		t.Errorf("attempts = %+v", acq.Attempts)
	}
}
