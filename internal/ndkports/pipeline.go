package ndkports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pipeline drives the stages of every port against one read-only Settings.
// Dependency cycles are rejected when the pipeline is created, before any
// stage can run.
type Pipeline struct {
	Settings  *Settings
	Ports     *PortSet
	Graph     *Graph
	Fetcher   *Fetcher
	NewRunner func(abi Abi, log io.Writer) Runner
	Verifier  *Verifier
	Log       *logrus.Entry

	workDir string
	ndkOnce sync.Once
	ndk     *Ndk
	ndkErr  error
}

// NewPipeline validates the port set and its dependency graph.
func NewPipeline(s *Settings, ports []*Port, log *logrus.Entry) (*Pipeline, error) {
	set, err := NewPortSet(ports...)
	if err != nil {
		return nil, err
	}
	graph, err := set.Graph()
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	workDir, err := filepath.Abs(s.WorkDir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = discardLog()
	}
	p := &Pipeline{
		Settings: s,
		Ports:    set,
		Graph:    graph,
		Fetcher:  NewFetcher(s.SourcesDir, s.KeyringPath),
		Log:      log,
		workDir:  workDir,
	}
	p.NewRunner = func(abi Abi, w io.Writer) Runner {
		return NewExecutor(s.BuildTimeout, w)
	}
	p.Verifier = &Verifier{
		Adb:    s.AdbPath,
		Serial: s.AdbSerial,
		Runner: NewExecutor(s.BuildTimeout, nil),
		Log:    log.WithField("stage", StageVerify),
	}
	return p, nil
}

func (p *Pipeline) portDir(port *Port) string { return filepath.Join(p.workDir, port.Name) }
func (p *Pipeline) srcDir(port *Port) string  { return filepath.Join(p.portDir(port), "src") }
func (p *Pipeline) srcStamp(port *Port) string {
	return filepath.Join(p.portDir(port), "src.stamp")
}
func (p *Pipeline) installRoot(port *Port) string {
	return filepath.Join(p.portDir(port), "install")
}
func (p *Pipeline) outRoot(port *Port) string { return filepath.Join(p.portDir(port), "out") }

// AarPath is where PrefabPackage writes port's package.
func (p *Pipeline) AarPath(port *Port) string {
	return filepath.Join(p.portDir(port), "aar", port.Name+"-"+port.Version+".aar")
}

func (p *Pipeline) descriptorPath(port *Port) string {
	return strings.TrimSuffix(p.AarPath(port), ".aar") + ".json"
}

func (p *Pipeline) repoDir() string { return filepath.Join(p.workDir, "repository") }

func (p *Pipeline) openNdk() (*Ndk, error) {
	p.ndkOnce.Do(func() {
		p.ndk, p.ndkErr = OpenNdk(p.Settings.NdkPath)
	})
	return p.ndk, p.ndkErr
}

// abis is the ABI set of port: the configured override, else the port's
// own list, else every supported ABI.
func (p *Pipeline) abis(port *Port) ([]Abi, error) {
	if len(p.Settings.Abis) > 0 {
		return ParseAbis(p.Settings.Abis)
	}
	return ParseAbis(port.Abis)
}

func (p *Pipeline) portLog(port *Port, stage string) *logrus.Entry {
	return p.Log.WithFields(logrus.Fields{"port": port.Name, "version": port.Version, "stage": stage})
}

// stagedAs describes the source tree ExtractSrc produces for port. A tree
// whose stamp differs was staged for another version or patch set.
func stagedAs(port *Port) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", port.Name, port.Version, port.SHA256)
	for _, patch := range port.Patches {
		fmt.Fprintf(&b, "patch %s\n", patch)
	}
	return b.String()
}

// sourceCurrent reports whether the staged tree of port can be built as is.
func (p *Pipeline) sourceCurrent(port *Port) bool {
	if !exists(p.srcDir(port)) {
		return false
	}
	stamp, err := os.ReadFile(p.srcStamp(port))
	return err == nil && string(stamp) == stagedAs(port)
}

func stageErr(port *Port, stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Port: port.Name, Stage: stage, Err: err}
}

// DownloadSource fetches and verifies the port's source archive.
func (p *Pipeline) DownloadSource(ctx context.Context, name string) (string, error) {
	port, err := p.Ports.Get(name)
	if err != nil {
		return "", err
	}
	log := p.portLog(port, StageDownload)
	printStep("Fetching %s %s\n", port.Name, port.Version)
	path, err := p.Fetcher.Fetch(ctx, port.Source())
	if err != nil {
		log.WithError(err).Error("download failed")
		return "", stageErr(port, StageDownload, err)
	}
	log.WithField("path", path).Info("source verified")
	return path, nil
}

// ExtractSrc stages a fresh, patched source tree. The archive is fetched
// and verified first; a failed verification never reaches extraction.
func (p *Pipeline) ExtractSrc(ctx context.Context, name string) (string, error) {
	port, err := p.Ports.Get(name)
	if err != nil {
		return "", err
	}
	archive, err := p.DownloadSource(ctx, name)
	if err != nil {
		return "", err
	}
	printStep("Extracting %s\n", filepath.Base(archive))
	dest := p.srcDir(port)
	if err := os.RemoveAll(p.srcStamp(port)); err != nil {
		return "", stageErr(port, StageExtract, err)
	}
	if err := StageSource(archive, dest, port.Patches); err != nil {
		p.portLog(port, StageExtract).WithError(err).Error("staging failed")
		return "", stageErr(port, StageExtract, err)
	}
	if err := writeFileAtomic(p.srcStamp(port), []byte(stagedAs(port)), 0o644); err != nil {
		return "", stageErr(port, StageExtract, err)
	}
	p.portLog(port, StageExtract).WithField("dir", dest).Info("source staged")
	return dest, nil
}

// BuildPort builds every ABI of the port into its out root, generating the
// dependency sysroot first when the port needs one. A source tree that is
// missing or was staged for another version or patch set is staged again.
func (p *Pipeline) BuildPort(ctx context.Context, name string) error {
	port, err := p.Ports.Get(name)
	if err != nil {
		return err
	}
	if !p.sourceCurrent(port) {
		if _, err := p.ExtractSrc(ctx, name); err != nil {
			return err
		}
	}
	ndk, err := p.openNdk()
	if err != nil {
		return stageErr(port, StageBuild, err)
	}
	abis, err := p.abis(port)
	if err != nil {
		return stageErr(port, StageBuild, err)
	}

	var sysroot *SysrootGenerator
	if port.Sysroot == SysrootPrefab {
		sysroot, err = p.generateSysroot(port, abis)
		if err != nil {
			return stageErr(port, StageBuild, err)
		}
	}

	names := make([]string, len(abis))
	for i, abi := range abis {
		names[i] = abi.Name
	}
	printStep("Building %s %s for %s\n", port.Name, port.Version, strings.Join(names, ", "))

	fan := &FanOut{
		Port:        port,
		Ndk:         ndk,
		Abis:        abis,
		SourceDir:   p.srcDir(port),
		BuildRoot:   filepath.Join(p.portDir(port), "build"),
		InstallRoot: p.installRoot(port),
		OutRoot:     p.outRoot(port),
		LogDir:      filepath.Join(p.portDir(port), "logs"),
		Sysroot:     sysroot,
		Jobs:        p.Settings.Jobs,
		AbiJobs:     p.Settings.AbiJobs,
		NewRunner:   p.NewRunner,
		Log:         p.portLog(port, StageBuild),
	}
	if err := fan.Run(ctx); err != nil {
		return stageErr(port, StageBuild, err)
	}

	if p.Settings.Verify && port.Verify != nil {
		if err := p.verify(ctx, port, abis); err != nil {
			return err
		}
	}
	return nil
}

// generateSysroot unpacks the packages of every direct and transitive
// dependency. Dependencies must already be packaged.
func (p *Pipeline) generateSysroot(port *Port, abis []Abi) (*SysrootGenerator, error) {
	deps, err := p.Graph.Transitive(port.Name)
	if err != nil {
		return nil, err
	}
	var aars []string
	for _, dep := range deps {
		depPort, err := p.Ports.Get(dep)
		if err != nil {
			return nil, err
		}
		aar := p.AarPath(depPort)
		if !exists(aar) {
			return nil, fmt.Errorf("dependency %s %s has not been packaged (run prefabPackage %s)", dep, depPort.Version, dep)
		}
		aars = append(aars, aar)
	}
	gen := &SysrootGenerator{Dir: filepath.Join(p.portDir(port), "sysroot"), Abis: abis}
	if err := gen.Generate(aars); err != nil {
		return nil, err
	}
	p.portLog(port, StageBuild).WithField("packages", deps).Info("sysroot generated")
	return gen, nil
}

func (p *Pipeline) verify(ctx context.Context, port *Port, abis []Abi) error {
	res, err := p.Verifier.Run(ctx, port.Verify, p.installRoot(port), abis)
	if err == nil {
		if !res.Skipped {
			printStep("Verified %s on %s\n", port.Name, res.Abi)
		}
		return nil
	}
	if port.Verify.Mandatory {
		return stageErr(port, StageVerify, err)
	}
	cPrintf(colWarn, "Warning: verification of %s failed: %v\n", port.Name, err)
	return nil
}

// Verify runs the port's on-device check against an existing build.
func (p *Pipeline) Verify(ctx context.Context, name string) error {
	port, err := p.Ports.Get(name)
	if err != nil {
		return err
	}
	if port.Verify == nil {
		return fmt.Errorf("port %s declares no verification", name)
	}
	abis, err := p.abis(port)
	if err != nil {
		return err
	}
	res, err := p.Verifier.Run(ctx, port.Verify, p.installRoot(port), abis)
	if err != nil {
		return stageErr(port, StageVerify, err)
	}
	if res.Skipped {
		cPrintln(colWarn, "No matching device; verification skipped")
	}
	return nil
}

// packageRequest assembles the packaging inputs of port.
func (p *Pipeline) packageRequest(port *Port) (PackageRequest, error) {
	deps := make(map[string]string, len(port.Dependencies))
	for _, dep := range port.Dependencies {
		depPort, err := p.Ports.Get(dep)
		if err != nil {
			return PackageRequest{}, err
		}
		deps[dep] = depPort.Version
	}
	return PackageRequest{
		Name:         port.Name,
		Version:      port.Version,
		License:      filepath.Join(p.srcDir(port), port.License),
		Modules:      port.Modules,
		Dependencies: deps,
	}, nil
}

// PrefabPackage writes the port's AAR and descriptor from its out root.
func (p *Pipeline) PrefabPackage(ctx context.Context, name string) (*PackageDescriptor, error) {
	port, err := p.Ports.Get(name)
	if err != nil {
		return nil, err
	}
	ndk, err := p.openNdk()
	if err != nil {
		return nil, stageErr(port, StagePackage, err)
	}
	abis, err := p.abis(port)
	if err != nil {
		return nil, stageErr(port, StagePackage, err)
	}
	req, err := p.packageRequest(port)
	if err != nil {
		return nil, stageErr(port, StagePackage, err)
	}
	packager := &Packager{
		OutRoot:  p.outRoot(port),
		Abis:     abis,
		MinSdk:   port.minSdk(),
		NdkMajor: ndk.Version.Major,
		Stl:      port.Stl,
	}
	dest := p.AarPath(port)
	desc, err := packager.Package(req, dest)
	if err != nil {
		p.portLog(port, StagePackage).WithError(err).Error("packaging failed")
		return nil, stageErr(port, StagePackage, err)
	}
	p.portLog(port, StagePackage).WithField("aar", dest).Info("package written")
	printStep("Packaged %s\n", dest)
	return desc, nil
}

// Descriptor reads the descriptor written by PrefabPackage.
func (p *Pipeline) Descriptor(name string) (*PackageDescriptor, error) {
	port, err := p.Ports.Get(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.descriptorPath(port))
	if err != nil {
		return nil, fmt.Errorf("%s %s has not been packaged: %w", port.Name, port.Version, err)
	}
	return ParseDescriptor(data)
}

// NewPublisher loads the signing key from Settings.
func (p *Pipeline) NewPublisher() (*Publisher, error) {
	pub, err := NewPublisher(p.repoDir(), p.Settings.Group, p.Settings.SigningKey, p.Settings.SigningPassword)
	if err != nil {
		return nil, err
	}
	pub.Log = p.Log.WithField("stage", StagePublish)
	return pub, nil
}

// Publish signs and stages an existing package into the local repository.
// A nil publisher loads one from Settings.
func (p *Pipeline) Publish(ctx context.Context, name string, pub *Publisher) (string, error) {
	port, err := p.Ports.Get(name)
	if err != nil {
		return "", err
	}
	if pub == nil {
		if pub, err = p.NewPublisher(); err != nil {
			return "", stageErr(port, StagePublish, err)
		}
	}
	desc, err := p.Descriptor(name)
	if err != nil {
		return "", stageErr(port, StagePublish, err)
	}
	dir, err := pub.Publish(Publication{Port: port, Aar: p.AarPath(port), Descriptor: desc})
	if err != nil {
		return "", stageErr(port, StagePublish, err)
	}
	printStep("Published %s %s to %s\n", port.Name, desc.Version, dir)
	return dir, nil
}

// DistZip zips the published version of a port into <work>/dist.
func (p *Pipeline) DistZip(name string) (string, error) {
	port, err := p.Ports.Get(name)
	if err != nil {
		return "", err
	}
	pub := &Publisher{RepoDir: p.repoDir(), Group: p.Settings.Group}
	if pub.Group == "" {
		pub.Group = defaultGroup
	}
	versionDir := filepath.Join(pub.artifactDir(port.Name), port.Version)
	dest, err := distZip(p.repoDir(), versionDir, filepath.Join(p.workDir, "dist"), port.Name, port.Version)
	if err != nil {
		return "", stageErr(port, StagePublish, err)
	}
	printStep("Wrote %s\n", dest)
	return dest, nil
}

// Release runs every stage for names and everything they depend on, in
// dependency order. The signing key is loaded before the first build so a
// bad key fails fast.
func (p *Pipeline) Release(ctx context.Context, names []string) error {
	order, err := p.Graph.Closure(names)
	if err != nil {
		return err
	}
	pub, err := p.NewPublisher()
	if err != nil {
		return &StageError{Port: strings.Join(names, ","), Stage: StagePublish, Err: err}
	}

	reqs := make([]SourceRequest, 0, len(order))
	for _, name := range order {
		port, _ := p.Ports.Get(name)
		reqs = append(reqs, port.Source())
	}
	printStep("Fetching %d source archives\n", len(reqs))
	if _, err := prefetchSources(ctx, p.Fetcher, reqs); err != nil {
		// Attribute the failure to its port through the regular stage.
		for _, name := range order {
			if _, derr := p.DownloadSource(ctx, name); derr != nil {
				return derr
			}
		}
		return err
	}

	for _, name := range order {
		if _, err := p.ExtractSrc(ctx, name); err != nil {
			return err
		}
		if err := p.BuildPort(ctx, name); err != nil {
			return err
		}
		if _, err := p.PrefabPackage(ctx, name); err != nil {
			return err
		}
		if _, err := p.Publish(ctx, name, pub); err != nil {
			return err
		}
	}
	return nil
}
