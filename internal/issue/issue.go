// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

type Id int

const (
	CredentialNotFoundId Id = iota + 1
	AcquisitionFailedId
	ExtractionFailedId
	BundlingFailedId
	InstallFailedId
	ConfigLoadFailedId
	InvalidReferenceId
	RecipeNotFoundId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // documentation for this issue type
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	var extraMd strings.Builder
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			extraMd.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			extraMd.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(string(i.mdMsg)+extraMd.String(), stylePath)
}

var (
	render = glamour.Render

	credentialNotFoundIssue = &Issue{
		id: CredentialNotFoundId,
		mdMsg: `
# No GitHub credential found!

The tool lives in a private repository and none of the supported credential
sources produced a token.

## Sources checked (in order):
1. ` + "`GITHUB_TOKEN`" + ` / ` + "`HOMEBREW_GITHUB_API_TOKEN`" + `
2. The GitHub CLI session (` + "`gh auth token`" + `)
3. ~/.config/gh/hosts.yml
4. ` + "`git config --global github.token`" + `
5. git credential helpers
6. The macOS keychain

## Things you can try:
- Log in with the GitHub CLI:
~~~
$ gh auth login
~~~

- Or export a personal access token with the ` + "`repo`" + ` scope:
~~~
$ export GITHUB_TOKEN=<token>
~~~

- Check what toolsmith finds:
~~~
$ toolsmith credential --verbose
~~~`,
		extLinks: []HttpLink{"https://docs.github.com/en/authentication/keeping-your-account-and-data-secure/managing-your-personal-access-tokens"},
	}

	acquisitionFailedIssue = &Issue{
		id: AcquisitionFailedId,
		mdMsg: `
# Could not download the repository!

Every download strategy failed. The reasons are listed above, one per strategy.

## Common causes:
- The tag does not exist (check the spelling and the ` + "`v`" + ` prefix)
- The token cannot see the repository (a private repository answers 404)
- The GitHub CLI is not installed or not logged in
- No SSH key is registered with GitHub

## Things you can try:
- Verify the tag exists:
~~~
$ gh release view <tag> --repo <owner>/<name>
~~~

- Re-run with verbose output to see every attempt:
~~~
$ toolsmith --verbose install <owner>/<name>@<tag> --path <dir>
~~~`,
	}

	extractionFailedIssue = &Issue{
		id: ExtractionFailedId,
		mdMsg: `
# Could not unpack the downloaded archive!

The download completed but the file is not a valid gzip-compressed tarball,
or it contains no files.

## Things you can try:
- Retry; a proxy or captive portal may have returned an HTML page
- Check that the tag points at a commit with files in it
- Re-run with ` + "`--verbose`" + ` to see which strategy produced the archive`,
	}

	bundlingFailedIssue = &Issue{
		id: BundlingFailedId,
		mdMsg: `
# Could not build the tool script!

The repository was downloaded but the tool could not be assembled.

## Common causes:
- The entry script does not exist at the given path
- The library directory could not be read
- The assembled script is not valid bash

## Things you can try:
- Check the layout expected for a tool:
~~~
utils/<tool>/<tool>.sh
utils/<tool>/lib/*.sh
~~~

- Point at a different entry script with ` + "`--entry`" + `
- Reproduce locally against a checkout:
~~~
$ toolsmith bundle utils/<tool>
~~~`,
	}

	installFailedIssue = &Issue{
		id: InstallFailedId,
		mdMsg: `
# Could not install the tool!

The script was built but could not be written to the bin directory.
Nothing was changed at the destination.

## Things you can try:
- Check that the bin directory is writable
- Install somewhere else:
~~~
$ toolsmith install ... --bin-dir ~/.local/bin
~~~

- Set a permanent default in your config:
~~~cue
install: bin_dir: "/usr/local/bin"
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Your toolsmith configuration file could not be loaded.

## Things you can try:
- Check the file for CUE syntax errors
- Show the effective configuration:
~~~
$ toolsmith config show
~~~

- Recreate the default configuration:
~~~
$ toolsmith config init --force
~~~`,
	}

	invalidReferenceIssue = &Issue{
		id: InvalidReferenceId,
		mdMsg: `
# Invalid repository reference!

Repositories are written as ` + "`owner/name@tag`" + `.

## Examples:
~~~
$ toolsmith install acme/tools@v1.4.0 --path utils/kdiff
$ toolsmith install acme/tools@2024.06 --path utils/r53 --as r53
~~~`,
	}

	recipeNotFoundIssue = &Issue{
		id: RecipeNotFoundId,
		mdMsg: `
# Recipe not found!

The name you gave is not a configured recipe and not an ` + "`owner/name@tag`" + ` reference.

## Things you can try:
- List configured recipes:
~~~
$ toolsmith recipes
~~~

- Add one to your config:
~~~cue
recipes: [{
	name:   "kdiff"
	repo:   "acme/tools"
	tag:    "v1.4.0"
	path:   "utils/kdiff"
}]
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to perform this operation.

## Things you can try:
- Check file and directory permissions
- Choose a bin directory you own with ` + "`--bin-dir`" + `
- Avoid running toolsmith with sudo; install into ~/.local/bin instead`,
	}

	issues = map[Id]*Issue{
		credentialNotFoundIssue.Id(): credentialNotFoundIssue,
		acquisitionFailedIssue.Id():  acquisitionFailedIssue,
		extractionFailedIssue.Id():   extractionFailedIssue,
		bundlingFailedIssue.Id():     bundlingFailedIssue,
		installFailedIssue.Id():      installFailedIssue,
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		invalidReferenceIssue.Id():   invalidReferenceIssue,
		recipeNotFoundIssue.Id():     recipeNotFoundIssue,
		permissionDeniedIssue.Id():   permissionDeniedIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
}

func Get(id Id) *Issue {
	return issues[id]
}
