// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"slices"
	"strings"
	"testing"
)

func allIds() []Id {
	return []Id{
		CredentialNotFoundId,
		AcquisitionFailedId,
		ExtractionFailedId,
		BundlingFailedId,
		InstallFailedId,
		ConfigLoadFailedId,
		InvalidReferenceId,
		RecipeNotFoundId,
		PermissionDeniedId,
	}
}

// stubRender replaces glamour with an identity renderer for the test.
func stubRender(t *testing.T) {
	t.Helper()
	originalRender := render
	t.Cleanup(func() { render = originalRender })
	render = func(in string, _ string) (string, error) {
		return in, nil
	}
}

func TestId_Constants(t *testing.T) {
	seen := make(map[Id]bool)
	for _, id := range allIds() {
		if seen[id] {
			t.Errorf("duplicate ID: %d", id)
		}
		seen[id] = true
	}

	if CredentialNotFoundId != 1 {
		t.Errorf("CredentialNotFoundId = %d, want 1", CredentialNotFoundId)
	}
}

func TestGet(t *testing.T) {
	tests := []struct {
		id       Id
		wantNil  bool
		contains string
	}{
		{CredentialNotFoundId, false, "No GitHub credential found"},
		{AcquisitionFailedId, false, "Could not download"},
		{ExtractionFailedId, false, "Could not unpack"},
		{BundlingFailedId, false, "Could not build the tool script"},
		{InstallFailedId, false, "Could not install"},
		{ConfigLoadFailedId, false, "Failed to load configuration"},
		{InvalidReferenceId, false, "owner/name@tag"},
		{RecipeNotFoundId, false, "Recipe not found"},
		{PermissionDeniedId, false, "Permission denied"},
		{Id(9999), true, "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.contains, func(t *testing.T) {
			issue := Get(tt.id)

			if tt.wantNil {
				if issue != nil {
					t.Errorf("Get(%d) should return nil", tt.id)
				}
				return
			}

			if issue == nil {
				t.Fatalf("Get(%d) returned nil", tt.id)
			}
			if issue.Id() != tt.id {
				t.Errorf("Id() = %d, want %d", issue.Id(), tt.id)
			}
			if !strings.Contains(string(issue.MarkdownMsg()), tt.contains) {
				t.Errorf("Get(%d).MarkdownMsg() should contain %q", tt.id, tt.contains)
			}
		})
	}
}

func TestValues_SortedAndComplete(t *testing.T) {
	issues := Values()

	if len(issues) != len(allIds()) {
		t.Fatalf("Values() returned %d issues, want %d", len(issues), len(allIds()))
	}
	ids := make([]Id, 0, len(issues))
	for _, i := range issues {
		ids = append(ids, i.Id())
	}
	if !slices.IsSorted(ids) {
		t.Errorf("Values() not sorted by id: %v", ids)
	}
}

func TestIssue_LinksAreCloned(t *testing.T) {
	issue := Get(CredentialNotFoundId)
	links := issue.ExtLinks()
	if len(links) == 0 {
		t.Fatal("CredentialNotFound issue has no external links")
	}

	original := links[0]
	links[0] = "modified"
	if issue.ExtLinks()[0] != original {
		t.Error("ExtLinks() should return a clone")
	}
	if issue.DocLinks() != nil {
		t.Errorf("DocLinks() = %v, want nil", issue.DocLinks())
	}
}

func TestIssue_Render_WithLinks(t *testing.T) {
	stubRender(t)

	testIssue := &Issue{
		id:       Id(9999),
		mdMsg:    "# Test Issue\n\nThis is a test.",
		docLinks: []HttpLink{"https://docs.example.com"},
		extLinks: []HttpLink{"https://external.example.com"},
	}

	rendered, err := testIssue.Render("")
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}
	for _, want := range []string{"See also", "https://docs.example.com", "https://external.example.com"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("Render() output missing %q:\n%s", want, rendered)
		}
	}
}

func TestIssue_Render_NoLinks(t *testing.T) {
	stubRender(t)

	testIssue := &Issue{
		id:    Id(9998),
		mdMsg: "# Test Issue\n\nNo links here.",
	}

	rendered, err := testIssue.Render("")
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}
	if strings.Contains(rendered, "See also") {
		t.Error("Render() without links should not contain 'See also'")
	}
}

func TestAllIssuesAreRenderable(t *testing.T) {
	stubRender(t)

	for _, issue := range Values() {
		if issue.MarkdownMsg() == "" {
			t.Errorf("Issue %d has empty MarkdownMsg", issue.Id())
		}
		rendered, err := issue.Render("")
		if err != nil {
			t.Errorf("Issue %d failed to render: %v", issue.Id(), err)
		}
		if rendered == "" {
			t.Errorf("Issue %d rendered to empty string", issue.Id())
		}
	}
}

func TestIssue_RenderWithGlamour(t *testing.T) {
	rendered, err := Get(InstallFailedId).Render("notty")
	if err != nil {
		t.Fatalf("Render(notty) error = %v", err)
	}
	if !strings.Contains(rendered, "install") {
		t.Errorf("glamour output lost content:\n%s", rendered)
	}
}
