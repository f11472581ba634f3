package config

import "runtime"

const (
	defaultMediaRoot              = "~/.local/share/vidpipe/media"
	defaultStateDir               = "~/.local/share/vidpipe/state"
	defaultLogDir                 = "~/.local/share/vidpipe/logs"
	defaultWatchDir               = "~/.local/share/vidpipe/incoming"
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultEncodeTimeout          = 3600
	defaultThumbnailTimeout       = 120
	defaultThumbnailOffsetSeconds = 1.0
	defaultThumbnailMaxWidth      = 640
	defaultKillGrace              = 5
	defaultMaxWorkers             = 4
	defaultQueuePollInterval      = 5
	defaultHeartbeatInterval      = 15
	defaultLeaseTimeout           = 120
	defaultMaxAttempts            = 3
	defaultRetryBackoff           = 30
	defaultRetryBackoffMax        = 600
	defaultCleanupRetryAttempts   = 3
	defaultCleanupRetryBackoffMS  = 250
	defaultReconcileSchedule      = "@every 10m"
	defaultTombstoneRetention     = 168
	defaultAPIBind                = "127.0.0.1:7490"
	defaultRateLimitPerMinute     = 120
	defaultSettleSeconds          = 2
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

var defaultExtensions = []string{".mp4", ".mov", ".mkv", ".webm", ".avi"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			MediaRoot: defaultMediaRoot,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			WatchDir:  defaultWatchDir,
		},
		FFmpeg: FFmpeg{
			Binary:                 defaultFFmpegBinary,
			FFprobeBinary:          defaultFFprobeBinary,
			EncodeTimeout:          defaultEncodeTimeout,
			ThumbnailTimeout:       defaultThumbnailTimeout,
			ThumbnailOffsetSeconds: defaultThumbnailOffsetSeconds,
			ThumbnailMaxWidth:      defaultThumbnailMaxWidth,
			KillGrace:              defaultKillGrace,
		},
		Workflow: Workflow{
			WorkerCount:       defaultWorkerCount(),
			QueuePollInterval: defaultQueuePollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			LeaseTimeout:      defaultLeaseTimeout,
			MaxAttempts:       defaultMaxAttempts,
			RetryBackoff:      defaultRetryBackoff,
			RetryBackoffMax:   defaultRetryBackoffMax,
		},
		Cleanup: Cleanup{
			RetryAttempts:      defaultCleanupRetryAttempts,
			RetryBackoffMS:     defaultCleanupRetryBackoffMS,
			ReconcileSchedule:  defaultReconcileSchedule,
			TombstoneRetention: defaultTombstoneRetention,
		},
		API: API{
			Bind:               defaultAPIBind,
			RateLimitPerMinute: defaultRateLimitPerMinute,
		},
		Ingest: Ingest{
			Extensions:    append([]string(nil), defaultExtensions...),
			SettleSeconds: defaultSettleSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > defaultMaxWorkers {
		n = defaultMaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}
