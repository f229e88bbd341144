package helpers

import "testing"

func TestCleanSnippet_StripsHighlightMarkup(t *testing.T) {
	input := `We build <strong>anvils</strong> and <b>tooling</b> for forges`
	got := CleanSnippet(input)
	want := "We build anvils and tooling for forges"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanSnippet_UnescapesEntities(t *testing.T) {
	input := `Sales &amp; marketing leaders at <b>Acme</b>`
	got := CleanSnippet(input)
	want := "Sales & marketing leaders at Acme"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanSnippet_DropsScriptContent(t *testing.T) {
	input := `Acme<script>alert('x')</script> Corp`
	got := CleanSnippet(input)
	want := "Acme Corp"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanSnippet_CollapsesWhitespace(t *testing.T) {
	input := "  Foundry \n\t teams   hiring  "
	got := CleanSnippet(input)
	want := "Foundry teams hiring"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCleanSnippet_PassesPlainTextThrough(t *testing.T) {
	if got := CleanSnippet("We make anvils"); got != "We make anvils" {
		t.Fatalf("expected plain text unchanged, got %q", got)
	}
	if got := CleanSnippet(""); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
