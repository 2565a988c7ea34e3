package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// HTTP server configuration
	Port         string
	APIAccessKey string

	// Scheduler configuration
	SchedulerInterval int
	WorkerCount       int
	ParseBatchSize    int

	// Job queue configuration
	LeaseDuration int
	MaxAttempts   int

	// Import configuration
	LookbackDays     int
	FetchTimeout     int
	SuspendThreshold int
	SuspendMinutes   int

	// Template engine configuration
	ConfidenceThreshold float64
	MatchFloor          float64
	ValidationFloor     float64
	RetirementFloor     float64
	GenerationAttempts  int

	// Template synthesis collaborator
	SynthBaseURL string
	SynthAPIKey  string
	SynthModel   string

	// Source registry
	SourcesDir string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
