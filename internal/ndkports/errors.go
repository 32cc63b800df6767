package ndkports

import (
	"fmt"
	"strings"
)

// Pipeline stage names, used in StageError and in CLI output.
const (
	StageDownload = "downloadSource"
	StageExtract  = "extractSrc"
	StageBuild    = "buildPort"
	StageVerify   = "verify"
	StagePackage  = "prefabPackage"
	StagePublish  = "publish"
)

// Build strategy stages, used in BuildFailure.
const (
	StageConfigure   = "configure"
	StageCompile     = "build"
	StageInstall     = "install"
	StagePostInstall = "postInstall"
	StageToolchain   = "toolchain"
)

// outputTailLines bounds how much captured process output is echoed in
// BuildFailure.Error. The full tail stays available in BuildFailure.Output.
const outputTailLines = 25

// StageError names the port and pipeline stage that failed.
type StageError struct {
	Port  string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Port, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FetchError reports a network or transport failure while downloading.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntegrityError reports a digest mismatch on a downloaded artifact.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// SignatureError reports a detached signature that could not be verified.
type SignatureError struct {
	Path string
	Err  error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature verification failed for %s: %v", e.Path, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }

// ExtractionError reports a malformed or unsupported archive.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PatchError reports a declared source patch that could not be applied.
type PatchError struct {
	Patch string
	Err   error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch %s: %v", e.Patch, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// UnsupportedArchitectureError reports an ABI outside the supported set.
type UnsupportedArchitectureError struct {
	Abi string
}

func (e *UnsupportedArchitectureError) Error() string {
	return fmt.Sprintf("unsupported architecture %q (supported: %s)", e.Abi, strings.Join(AbiNames(), ", "))
}

// ToolchainNotFoundError reports an NDK tool missing from the kit.
type ToolchainNotFoundError struct {
	Abi  string
	Tool string
	Path string
}

func (e *ToolchainNotFoundError) Error() string {
	if e.Abi == "" {
		return fmt.Sprintf("NDK %s not found at %s", e.Tool, e.Path)
	}
	return fmt.Sprintf("%s: %s not found at %s", e.Abi, e.Tool, e.Path)
}

// BuildFailure reports a failed build stage for one ABI. Output holds the
// tail of the external process output.
type BuildFailure struct {
	Stage    string
	Abi      string
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s stage failed", e.Abi, e.Stage)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := lastLines(e.Output, outputTailLines); tail != "" {
		b.WriteString("\n")
		b.WriteString(tail)
	}
	return b.String()
}

func (e *BuildFailure) Unwrap() error { return e.Err }

// PackageLayoutError reports a dependency package missing expected content.
type PackageLayoutError struct {
	Package string
	Detail  string
}

func (e *PackageLayoutError) Error() string {
	return fmt.Sprintf("package %s: %s", e.Package, e.Detail)
}

// MissingModuleError reports a declared module with no artifact for an ABI.
type MissingModuleError struct {
	Module string
	Abi    string
	Path   string
}

func (e *MissingModuleError) Error() string {
	return fmt.Sprintf("module %s has no artifact for %s (expected %s)", e.Module, e.Abi, e.Path)
}

// InvalidVersionError reports a version string that cannot be normalized.
type InvalidVersionError struct {
	Version string
	Reason  string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Version, e.Reason)
}

// SigningError reports an unavailable or unusable signing key.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// DependencyCycleError reports a cycle between ports. Cycle starts and ends
// with the same port.
type DependencyCycleError struct {
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
