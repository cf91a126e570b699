package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvEnvFile        = "ENV_FILE"
	EnvPort           = "PORT"
	EnvArtifactDir    = "ARTIFACT_DIR"
	EnvModelFile      = "MODEL_FILE"
	EnvScalerFile     = "SCALER_FILE"
	EnvFeaturesFile   = "FEATURES_FILE"
	EnvFrontendDir    = "FRONTEND_DIR"
	EnvDataPath       = "DATA_PATH"
	EnvLogLevel       = "LOG_LEVEL"
	EnvAllowedOrigins = "ALLOWED_ORIGINS"
	EnvReadTimeout    = "READ_TIMEOUT"
	EnvWriteTimeout   = "WRITE_TIMEOUT"
	EnvPredictTimeout = "PREDICT_TIMEOUT"
	EnvMaxBodyBytes   = "MAX_BODY_BYTES"
	EnvLiveFeed       = "LIVE_FEED"
)

// Configuration defaults
const (
	DefaultPort           = 8000
	DefaultArtifactDir    = "."
	DefaultModelFile      = "churn_model.json"
	DefaultScalerFile     = "scaler.json"
	DefaultFeaturesFile   = "features.json"
	DefaultFrontendDir    = "churn-frontend/dist"
	DefaultLogLevel       = "info"
	DefaultAllowedOrigins = "*"
	DefaultMaxBodyBytes   = 1 << 20
)

// Training defaults
const (
	DefaultDataFile     = "WA_Fn-UseC_-Telco-Customer-Churn.csv"
	DefaultSeed         = 42
	DefaultTestSize     = 0.2
	DefaultTrees        = 200
	DefaultMaxIter      = 1000
	DefaultRegularize   = 1.0
	DefaultIDColumn     = "customerID"
	DefaultLabelColumn  = "Churn"
	DefaultChargeColumn = "TotalCharges"
	PositiveLabel       = "Yes"
	NegativeLabel       = "No"
)

// Risk bands and decision threshold
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"

	MediumRiskThreshold = 0.4
	HighRiskThreshold   = 0.7
	ChurnThreshold      = 0.5

	PredictionYes = "Yes"
	PredictionNo  = "No"
)
