// Package fetch turns an image locator into a readable byte stream. A Fetcher
// resolves the locator's scheme and dispatches to one Strategy per scheme:
// network (manual redirects, strict 200 validation, 32 KiB buffering), local
// files (video files become a PNG still frame), content providers, bundled
// assets and numbered resources. Locators with an unknown scheme go through
// the prefix Registry first and then an optional fallback Strategy such as
// BucketStrategy. Every failure is reported as a *failure.Reason.
package fetch
