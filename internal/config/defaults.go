package config

const (
	defaultBaseDir        = "~/.local/share/settlecam"
	defaultStagingDir     = "~/.local/share/settlecam/staging"
	defaultResultsDir     = "~/.local/share/settlecam/results"
	defaultArchiveDir     = "~/.local/share/settlecam/archive"
	defaultLogDir         = "~/.local/share/settlecam/logs"
	defaultBootMarkerPath = "/tmp/settlecam_test_completed"
	defaultSocketPath     = "~/.local/share/settlecam/settlecamd.sock"

	defaultPrimaryKind   = "usb"
	defaultPrimarySource = "/dev/video0"
	defaultSecondaryKind = "usb"
	defaultCheckTimeout  = 10
	defaultCameraWidth   = 1280
	defaultCameraHeight  = 720
	defaultCameraFPS     = 15

	defaultDurationSeconds   = 35 * 60
	defaultRetryAttempts     = 5
	defaultRetryDelaySeconds = 10
	defaultAttemptTimeoutPad = 60

	defaultSampleIntervalSeconds = 10

	// Empirically tuned detection constants carried over from the field
	// calibration of the reference rig. No analytic derivation exists;
	// retune per container size and lighting.
	defaultSearchRegion       = 0.6
	defaultMinGapPx           = 20
	defaultMaxDepthPct        = 95.0
	defaultScanColumns        = 10
	defaultConsecutivePx      = 5
	defaultOutlierExtremePx   = 100.0
	defaultOutlierModeratePx  = 20.0
	defaultMinSurvivors       = 6
	defaultMaskCoverageMinPct = 5.0
	defaultMaskCoverageMaxPct = 95.0

	defaultContainerHeightMM = 214.0
	defaultROIX              = 180
	defaultROIY              = 0
	defaultROIWidth          = 320
	defaultROIHeight         = 480
	defaultMinPhysicalMM     = 0.0
	defaultMaxPhysicalMM     = 250.0

	// Supernatant sample points in the default 1280x720 snapshot frame:
	// center column, upper and lower thirds of the container.
	defaultColorTopX        = 640
	defaultColorTopY        = 200
	defaultColorBottomX     = 640
	defaultColorBottomY     = 520
	defaultColorPatchRadius = 5

	defaultDashboardTimeout  = 10
	defaultDashboardRetries  = 3
	defaultDashboardOperator = "settlecam"

	defaultStorageTimeout = 120
	defaultStorageRetries = 3

	defaultTelemetryListenAddr = "0.0.0.0:1502"

	defaultWorkflowMode      = "full"
	defaultRetention         = "discard"
	defaultHeartbeatInterval = 15
	defaultShutdownDelaySec  = 30

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			BaseDir:        defaultBaseDir,
			StagingDir:     defaultStagingDir,
			ResultsDir:     defaultResultsDir,
			ArchiveDir:     defaultArchiveDir,
			LogDir:         defaultLogDir,
			BootMarkerPath: defaultBootMarkerPath,
			SocketPath:     defaultSocketPath,
		},
		Camera: Camera{
			PrimaryKind:   defaultPrimaryKind,
			PrimarySource: defaultPrimarySource,
			SecondaryKind: defaultSecondaryKind,
			CheckTimeout:  defaultCheckTimeout,
			Width:         defaultCameraWidth,
			Height:        defaultCameraHeight,
			FPS:           defaultCameraFPS,
		},
		Capture: Capture{
			DurationSeconds:    defaultDurationSeconds,
			SnapshotOffsetsMin: []int{2, 33},
			RetryAttempts:      defaultRetryAttempts,
			RetryDelaySeconds:  defaultRetryDelaySeconds,
			AttemptTimeoutPad:  defaultAttemptTimeoutPad,
		},
		Sampling: Sampling{
			IntervalSeconds: defaultSampleIntervalSeconds,
		},
		Detection: Detection{
			SearchRegion:       defaultSearchRegion,
			MinGapPx:           defaultMinGapPx,
			MaxDepthPct:        defaultMaxDepthPct,
			ScanColumns:        defaultScanColumns,
			ConsecutivePx:      defaultConsecutivePx,
			OutlierExtremePx:   defaultOutlierExtremePx,
			OutlierModeratePx:  defaultOutlierModeratePx,
			MinSurvivors:       defaultMinSurvivors,
			MaskCoverageMinPct: defaultMaskCoverageMinPct,
			MaskCoverageMaxPct: defaultMaskCoverageMaxPct,
		},
		Geometry: Geometry{
			ContainerHeightMM: defaultContainerHeightMM,
			ROIX:              defaultROIX,
			ROIY:              defaultROIY,
			ROIWidth:          defaultROIWidth,
			ROIHeight:         defaultROIHeight,
			MinPhysicalMM:     defaultMinPhysicalMM,
			MaxPhysicalMM:     defaultMaxPhysicalMM,
		},
		ColorSample: ColorSample{
			TopX:        defaultColorTopX,
			TopY:        defaultColorTopY,
			BottomX:     defaultColorBottomX,
			BottomY:     defaultColorBottomY,
			PatchRadius: defaultColorPatchRadius,
		},
		Dashboard: Dashboard{
			RequestTimeout: defaultDashboardTimeout,
			RetryAttempts:  defaultDashboardRetries,
			Operator:       defaultDashboardOperator,
		},
		Storage: Storage{
			RequestTimeout: defaultStorageTimeout,
			RetryAttempts:  defaultStorageRetries,
		},
		Telemetry: Telemetry{
			ListenAddr: defaultTelemetryListenAddr,
		},
		Workflow: Workflow{
			Mode:              defaultWorkflowMode,
			Retention:         defaultRetention,
			RunOncePerBoot:    true,
			HeartbeatInterval: defaultHeartbeatInterval,
			ShutdownDelaySec:  defaultShutdownDelaySec,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
