package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/integrii/flaggy"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/buildlog"
	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/cache"
	"github.com/buildrunner/buildrunner/pkg/config"
	"github.com/buildrunner/buildrunner/pkg/imageops"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/remotehost"
	"github.com/buildrunner/buildrunner/pkg/runner"
	buildrunnerruntime "github.com/buildrunner/buildrunner/pkg/runtime"
	"github.com/buildrunner/buildrunner/pkg/scan"
	"github.com/buildrunner/buildrunner/pkg/session"
	"github.com/buildrunner/buildrunner/pkg/source"
	"github.com/buildrunner/buildrunner/pkg/utils"
	"github.com/buildrunner/buildrunner/pkg/vcsinfo"
)

const defaultVersion = "unversioned"

var (
	commit  string
	version = defaultVersion
	date    string

	manifestFile = "buildrunner.yml"
	configFlag   = false
	debuggingFlag = false
	buildNumber  string
	steps        []string

	pushFlag          = false
	cleanupImagesFlag = false
	localImagesFlag   = false
	publishPortsFlag  = false
	cleanCacheFlag    = false
	keepArtifactsFlag = false

	skipSecurityScan = false
)

func main() {
	updateBuildInfo()

	info := fmt.Sprintf("%s\nDate: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, commit, runtime.GOOS, runtime.GOARCH)

	flaggy.SetName("buildrunner")
	flaggy.SetDescription("Declarative, container-based build orchestration")
	flaggy.DefaultParser.AdditionalHelpPrepend = "https://github.com/buildrunner/buildrunner"

	flaggy.String(&manifestFile, "f", "file", "Path to the build manifest")
	flaggy.Bool(&configFlag, "c", "config", "Print the merged engine configuration and exit")
	flaggy.Bool(&debuggingFlag, "d", "debug", "Enable debug logging")
	flaggy.String(&buildNumber, "", "build-number", "Override the build number normally derived from VCS history")
	flaggy.StringSlice(&steps, "", "steps", "Run only the named steps and their dependencies")
	flaggy.Bool(&pushFlag, "", "push", "Push images for steps with a push stage")
	flaggy.Bool(&cleanupImagesFlag, "", "cleanup-images", "Has no effect: teardown does not remove built images")
	flaggy.Bool(&localImagesFlag, "", "local-images", "Never pull images already available locally")
	flaggy.Bool(&publishPortsFlag, "", "publish-ports", "Has no effect: declared container ports are always published to the host")
	flaggy.Bool(&cleanCacheFlag, "", "clean-cache", "Wipe the on-disk cache store and exit")
	flaggy.Bool(&keepArtifactsFlag, "", "keep-step-artifacts", "Has no effect: the results directory is never cleared between runs")
	flaggy.Bool(&skipSecurityScan, "", "skip-security-scan", "Skip the vulnerability scan normally required before a push")
	flaggy.SetVersion(info)

	flaggy.Parse()

	bootLog := logrus.NewEntry(logrus.New())

	appCfg, err := config.NewAppConfig(version, commit, date, buildNumber, debuggingFlag)
	if err != nil {
		fatal(bootLog, buildrerr.Wrap(buildrerr.Configuration, "", "startup", err))
	}

	log := buildlog.New(appCfg)

	if configFlag {
		fmt.Printf("%+v\n", appCfg.UserConfig)
		os.Exit(session.ExitSuccess)
	}

	if cleanCacheFlag {
		store := cache.NewStore(appCfg.CacheRoot())
		if err := store.Wipe(context.Background()); err != nil {
			fatal(log, buildrerr.Wrap(buildrerr.Resource, "", "clean-cache", err))
		}
		os.Exit(session.ExitSuccess)
	}

	projectDir, err := os.Getwd()
	if err != nil {
		fatal(log, buildrerr.Wrap(buildrerr.Internal, "", "startup", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Warn("received interrupt, cancelling build")
		cancel()
	}()

	loader := manifest.NewYAMLLoader()
	m, err := loader.Load(filepath.Join(projectDir, manifestFile))
	if err != nil {
		fatal(log, err)
	}

	vcs, err := vcsinfo.GitProbe{}.Probe(ctx, projectDir)
	if err != nil {
		log.WithError(err).Warn("could not probe VCS metadata, falling back to an unversioned build id")
		vcs = vcsinfo.Info{Branch: "unknown", ShortID: "unknown"}
	}
	if buildNumber != "" {
		appCfg.BuildID = buildNumber
	} else {
		appCfg.BuildID = fmt.Sprintf("%s-%d", vcs.ShortID, vcs.Number)
	}

	stepNames := make([]string, len(m.Steps))
	for i, s := range m.Steps {
		stepNames[i] = s.Name
	}

	bc, err := buildctx.New(appCfg, log, buildctx.Options{
		BuildNumber: buildNumber,
		Branch:      vcs.Branch,
		ShortSHA:    vcs.ShortID,
		Modified:    vcs.Modified,
		StepNames:   stepNames,
	})
	if err != nil {
		fatal(log, err)
	}
	for k, v := range m.GlobalOptions.Env {
		bc.Env[k] = v
	}

	rt, err := buildrunnerruntime.NewDockerRuntime(log)
	if err != nil {
		fatal(log, err)
	}

	snap, err := source.Build(projectDir, bc.TempDir, log)
	if err != nil {
		fatal(log, buildrerr.Wrap(buildrerr.Resource, "", "snapshot", err))
	}

	ops := imageops.New(rt, appCfg.UserConfig, log)
	remote := remotehost.NewSSHRunner(log)
	cacheStore := cache.NewStore(appCfg.CacheRoot())

	var scanner scan.VulnerabilityScanner = scan.NoopScanner{Log: log}
	var uploader scan.PackageIndexUploader = scan.NoopUploader{Log: log}
	if skipSecurityScan {
		log.Debug("security scan override requested; using no-op scanner")
	}

	runnerOpts := runner.Options{
		ManifestDir:       projectDir,
		Push:              pushFlag,
		LocalImages:       localImagesFlag,
		CleanupImages:     cleanupImagesFlag,
		KeepStepArtifacts: keepArtifactsFlag,
		Runtime:           rt,
		Images:            ops,
		Snapshot:          snap,
		Remote:            remote,
		Cache:             cacheStore,
		VCS:               vcs,
		Scanner:           scanner,
		Uploader:          uploader,
		BuildCtx:          bc,
		Log:               log,
	}

	sess := session.New(session.Options{
		ManifestDir:       projectDir,
		Subset:            steps,
		Push:              pushFlag,
		LocalImages:       localImagesFlag,
		CleanupImages:     cleanupImagesFlag,
		PublishPorts:      publishPortsFlag,
		KeepStepArtifacts: keepArtifactsFlag,
		RunnerOpts:        runnerOpts,
		BuildCtx:          bc,
		Snapshot:          snap,
		Runtime:           rt,
		Log:               log,
	})

	code, report, err := sess.Run(ctx, m)
	if err != nil {
		fatal(log, err)
	}

	for _, sr := range report.Steps {
		fmt.Println(buildlog.Status(sr.Name, "run", sr.Status))
	}
	log.WithField("status", report.Status).WithField("duration", report.Duration).Info("build finished")
	os.Exit(code)
}

func fatal(log *logrus.Entry, err error) {
	if buildrerr.HasKind(err, buildrerr.Configuration) {
		log.Error(err)
		os.Exit(session.ExitConfiguration)
	}
	log.Error(buildrerr.WrapForTopLevel(err))
	os.Exit(session.ExitStepFailure)
}

func updateBuildInfo() {
	if version != defaultVersion {
		return
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if revision, ok := lo.Find(buildInfo.Settings, func(s debug.BuildSetting) bool { return s.Key == "vcs.revision" }); ok {
		commit = revision.Value
		version = utils.SafeTruncate(commit, 7)
	}
	if t, ok := lo.Find(buildInfo.Settings, func(s debug.BuildSetting) bool { return s.Key == "vcs.time" }); ok {
		date = t.Value
	}
}
