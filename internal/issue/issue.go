// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	ConfigurationInvalidId
	UpstreamUnavailableId
	RateLimitedId
	AssetNotFoundId
	ResolutionFailedId
	UpdateInProgressId
	CredentialKeyMissingId
	InstallFailedId
	InternalErrorId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	kind     string      // failure kind the issue explains, if any
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

// Kind returns the failure kind this issue explains, or "".
func (i *Issue) Kind() string {
	return i.kind
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

// Render formats the issue as terminal markdown. stylePath is a glamour
// style name ("dark", "light", "notty") or a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration

The configuration file could not be read or did not match the schema.

## Things you can try:
- Check the file for CUE syntax errors; the message above names the field.
- Write a fresh default file and copy your values over:
~~~
$ upkeep config init --force
~~~
- Validate a file without running a check:
~~~
$ upkeep config validate ./config.cue
~~~`,
	}

	configurationInvalidIssue = &Issue{
		id:   ConfigurationInvalidId,
		kind: "configuration",
		mdMsg: `
# Update settings are incomplete

No request was sent to GitHub because a required setting is missing or malformed.

## Required settings:
- **repository**: ` + "`owner/name`" + ` or ` + "`https://github.com/owner/name`" + `
- **asset_prefix**: the archive name without ` + "`.zip`" + `, e.g. ` + "`my-plugin`" + `
- **current_version**: the installed version, e.g. ` + "`1.4.2`" + `

## Things you can try:
~~~
$ upkeep config show
$ UPKEEP_REPOSITORY=acme/widget upkeep check
~~~`,
	}

	upstreamUnavailableIssue = &Issue{
		id:   UpstreamUnavailableId,
		kind: "upstream",
		mdMsg: `
# GitHub did not return a usable release

The releases API failed, returned no release, or the release tag is not a version.

## Things you can try:
- Confirm the repository exists and has at least one published release.
- Private repositories need an access token:
~~~
$ upkeep credential set
~~~
- Release tags must look like ` + "`v1.2.3`" + `, ` + "`1.2`" + ` or ` + "`release-1.2.3.4`" + `.`,
		extLinks: []HttpLink{"https://docs.github.com/en/rest/releases/releases"},
	}

	rateLimitedIssue = &Issue{
		id:   RateLimitedId,
		kind: "rate_limited",
		mdMsg: `
# GitHub API rate limit exceeded

Unauthenticated clients share a small hourly quota per IP address.

## Things you can try:
- Wait until the reset time shown above and retry.
- Store a token to raise the limit:
~~~
$ upkeep credential set
~~~`,
		extLinks: []HttpLink{"https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api"},
	}

	assetNotFoundIssue = &Issue{
		id:   AssetNotFoundId,
		kind: "asset_selection",
		mdMsg: `
# No matching release asset

The latest release has no ` + "`.zip`" + ` asset named after the configured prefix.
Names are compared exactly (ignoring case); ` + "`-`" + ` and ` + "`_`" + ` are interchangeable.

## Things you can try:
- Compare the expected names with the available assets listed above.
- Fix **asset_prefix**, or attach a correctly named archive to the release.`,
	}

	resolutionFailedIssue = &Issue{
		id:   ResolutionFailedId,
		kind: "resolution",
		mdMsg: `
# The download URL could not be resolved

GitHub refused the asset request or did not hand off to storage.

## Things you can try:
- A 401 or 404 on a private repository usually means the stored token is
  missing, expired, or lacks the ` + "`contents:read`" + ` permission.
~~~
$ upkeep credential status
$ upkeep validate --credential-stdin < token.txt
~~~`,
	}

	updateInProgressIssue = &Issue{
		id:   UpdateInProgressId,
		kind: "conflict",
		mdMsg: `
# Another update is already running

Only one update may run per repository. The lock expires on its own after 60 seconds
if the other process died.

## Things you can try:
- Wait for the other update to finish, then retry.`,
	}

	credentialKeyMissingIssue = &Issue{
		id: CredentialKeyMissingId,
		mdMsg: `
# No key material for the stored credential

The credential is encrypted with a key derived from host secrets, and none are configured.

## Things you can try:
- Add up to four secrets (or a salt) to the config file:
~~~cue
credential: {
	secrets: ["...", "..."]
}
~~~
- Changing the secrets makes the stored credential unreadable; set it again afterwards.`,
	}

	installFailedIssue = &Issue{
		id: InstallFailedId,
		mdMsg: `
# The update could not be installed

The archive was downloaded but extraction or the directory swap failed.
The previous installation is restored from its ` + "`.bak`" + ` copy when possible.

## Things you can try:
- Check free disk space and write permission on the install directory.
- Run with ` + "`--log-level debug`" + ` to see each step.`,
	}

	internalErrorIssue = &Issue{
		id:   InternalErrorId,
		kind: "internal",
		mdMsg: `
# Unexpected internal error

This is a bug. Please report it with the output of ` + "`upkeep check --log-level debug`" + `
(credentials are never written to the log).`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():     configLoadFailedIssue,
		configurationInvalidIssue.Id(): configurationInvalidIssue,
		upstreamUnavailableIssue.Id():  upstreamUnavailableIssue,
		rateLimitedIssue.Id():          rateLimitedIssue,
		assetNotFoundIssue.Id():        assetNotFoundIssue,
		resolutionFailedIssue.Id():     resolutionFailedIssue,
		updateInProgressIssue.Id():     updateInProgressIssue,
		credentialKeyMissingIssue.Id(): credentialKeyMissingIssue,
		installFailedIssue.Id():        installFailedIssue,
		internalErrorIssue.Id():        internalErrorIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForKind returns the issue explaining a failure kind, or nil.
func ForKind(kind string) *Issue {
	if kind == "" {
		return nil
	}
	for _, i := range issues {
		if i.kind == kind {
			return i
		}
	}
	return nil
}
