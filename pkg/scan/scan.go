// Package scan defines the PackageIndexUploader and VulnerabilityScanner
// contracts the CLI's security-scan override flags need somewhere to land.
// Both are explicitly out of scope as real integrations; this package
// provides only the interface plus a logging no-op, following the
// teacher's habit of keeping an unimplemented integration point as a named
// interface rather than an ad-hoc bool flag threaded through call sites.
package scan

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PackageIndexUploader publishes a step's artifacts to a package index
// (e.g. a private PyPI or npm registry). No default implementation ships;
// NoopUploader logs the call it was asked to make and returns success.
type PackageIndexUploader interface {
	Upload(ctx context.Context, step string, artifactPaths []string) error
}

// VulnerabilityScanner inspects a built image or artifact set for known
// vulnerabilities before it's allowed to push. NoopScanner always reports
// clean.
type VulnerabilityScanner interface {
	Scan(ctx context.Context, step string, imageRef string) (Report, error)
}

// Report is a scan's result; Findings is always empty for NoopScanner.
type Report struct {
	Clean    bool
	Findings []string
}

// NoopUploader logs what it would have uploaded.
type NoopUploader struct {
	Log *logrus.Entry
}

func (u NoopUploader) Upload(ctx context.Context, step string, artifactPaths []string) error {
	u.Log.WithFields(logrus.Fields{"step": step, "artifacts": artifactPaths}).
		Debug("package index upload is not configured; skipping")
	return nil
}

// NoopScanner always reports a clean scan.
type NoopScanner struct {
	Log *logrus.Entry
}

func (s NoopScanner) Scan(ctx context.Context, step string, imageRef string) (Report, error) {
	s.Log.WithFields(logrus.Fields{"step": step, "image": imageRef}).
		Debug("vulnerability scanning is not configured; treating as clean")
	return Report{Clean: true}, nil
}

var (
	_ PackageIndexUploader = NoopUploader{}
	_ VulnerabilityScanner = NoopScanner{}
)
