package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"social-publisher/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	RedisClient RedisClient `json:"redisClient"`
	ServiceBus  ServiceBus  `json:"serviceBus"`
	Pubsub      Pubsub      `json:"pubsub"`
	Scheduler   Scheduler   `json:"scheduler"`
	OAuth       OAuth       `json:"oauth"`
	RateLimit   RateLimit   `json:"rateLimit"`
}

type App struct {
	Port        int    `json:"port"`
	Env         string `json:"env"`
	SecretKey   string `json:"secretKey"`
	TokenSecret string `json:"tokenSecret"`
	BaseURL     string `json:"baseUrl"`
	// ConnectedRedirect receives the browser after a completed OAuth callback.
	ConnectedRedirect string   `json:"connectedRedirect"`
	AllowedOrigins    []string `json:"allowedOrigins"`
	TLSEnabled        bool     `json:"tlsEnabled"`
	TLSCertFile       string   `json:"tlsCertFile"`
	TLSKeyFile        string   `json:"tlsKeyFile"`
}

type Database struct {
	Psql  Db `json:"psql"`
	Mongo Db `json:"mongo"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

type RedisClient struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	Username string `json:"username"`
	DB       int    `json:"db"`
}

type ServiceBus struct {
	Namespace        string `json:"namespace"`
	ConnectionString string `json:"connectionString"`
	Queue            string `json:"queue"`
}

type Pubsub struct {
	ProjectID   string `json:"projectID"`
	StatusTopic string `json:"statusTopic"`
}

// Scheduler selects and tunes the dispatch strategy.
type Scheduler struct {
	Mode                string        `json:"mode"` // auto | polling | queue
	PollInterval        time.Duration `json:"pollInterval"`
	SweepInterval       time.Duration `json:"sweepInterval"`
	RefreshInterval     time.Duration `json:"refreshInterval"`
	BatchSize           int           `json:"batchSize"`
	DispatchConcurrency int           `json:"dispatchConcurrency"`
	PublishTimeout      time.Duration `json:"publishTimeout"`
	RefreshBuffer       time.Duration `json:"refreshBuffer"`
}

type OAuth struct {
	StateTTL time.Duration `json:"stateTTL"`
	Twitter  OAuthClient   `json:"twitter"`
	LinkedIn OAuthClient   `json:"linkedin"`
	Reddit   OAuthClient   `json:"reddit"`
	YouTube  OAuthClient   `json:"youtube"`
}

type OAuthClient struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	RedirectURI  string   `json:"redirectURI"`
	Scopes       []string `json:"scopes"`
	UserAgent    string   `json:"userAgent"`
}

// Enabled reports whether enough is configured to run an authorization flow.
func (c OAuthClient) Enabled() bool {
	return c.ClientID != "" && c.RedirectURI != ""
}

type RateLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

const (
	SchedulerModeAuto    = "auto"
	SchedulerModePolling = "polling"
	SchedulerModeQueue   = "queue"
)

var C Config

func init() {
	LoadEnvFromFile("config.env", ".env")
	LoadConfig()
	initApp(&C)
	initDatabase(&C)
	initScheduler(&C)
	initOAuth(&C)
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

// IsProduction reports whether the production execution profile is active.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.App.Env)
	return env == "production" || env == "prod"
}

// ResolveSchedulerMode turns "auto" into a concrete mode using the execution profile.
func (c *Config) ResolveSchedulerMode() string {
	switch strings.ToLower(c.Scheduler.Mode) {
	case SchedulerModePolling:
		return SchedulerModePolling
	case SchedulerModeQueue:
		return SchedulerModeQueue
	}
	if c.IsProduction() {
		return SchedulerModeQueue
	}
	return SchedulerModePolling
}

func initApp(C *Config) {
	if v := os.Getenv("ENV"); v != "" {
		C.App.Env = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	if v := os.Getenv("TOKEN_ENCRYPTION_SECRET"); v != "" {
		C.App.TokenSecret = v
	}
	// Port resolution order (env overrides config): APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			C.App.TLSEnabled = b
		}
	}
	if C.App.TLSCertFile == "" {
		C.App.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	}
	if C.App.TLSKeyFile == "" {
		C.App.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	}
	if v := os.Getenv("CONNECTED_REDIRECT"); v != "" {
		C.App.ConnectedRedirect = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		C.App.AllowedOrigins = strings.Split(v, ",")
	}
	if len(C.App.AllowedOrigins) == 0 {
		C.App.AllowedOrigins = []string{"http://localhost:4200", "http://localhost:4201"}
	}
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
	if C.App.TokenSecret == "" {
		logger.GetLogger().Warn("App.TokenSecret not set; the service cannot encrypt tokens and will not start. Provide TOKEN_ENCRYPTION_SECRET via environment.")
	}
}

func initDatabase(C *Config) {
	if C.Database.Psql.Name == "" {
		C.Database.Psql.Name = os.Getenv("DB_NAME")
	}
	if C.Database.Psql.Host == "" {
		C.Database.Psql.Host = os.Getenv("DB_HOST")
	}
	if C.Database.Psql.User == "" {
		C.Database.Psql.User = os.Getenv("DB_USER")
	}
	if C.Database.Psql.Password == "" {
		C.Database.Psql.Password = os.Getenv("DB_PASSWORD")
	}
	if C.Database.Psql.Port == "" {
		C.Database.Psql.Port = getEnv("DB_PORT", "5432")
	}
	if C.Database.Psql.SSLMode == "" {
		C.Database.Psql.SSLMode = getEnv("DB_SSLMODE", "disable")
	}
	if C.Database.Mongo.Host == "" {
		C.Database.Mongo.Host = os.Getenv("MONGO_HOST")
	}
	if C.RedisClient.Host == "" {
		C.RedisClient.Host = os.Getenv("REDIS_HOST")
	}
	if C.RedisClient.Port == "" {
		C.RedisClient.Port = getEnv("REDIS_PORT", "6379")
	}
	if C.ServiceBus.ConnectionString == "" {
		C.ServiceBus.ConnectionString = os.Getenv("SERVICEBUS_CONNECTION_STRING")
	}
	if C.ServiceBus.Queue == "" {
		C.ServiceBus.Queue = getEnv("SERVICEBUS_QUEUE", "post-dispatch")
	}
	if C.Pubsub.StatusTopic == "" {
		C.Pubsub.StatusTopic = "post-account-status"
	}
}

func initScheduler(C *Config) {
	if v := os.Getenv("SCHEDULER_MODE"); v != "" {
		C.Scheduler.Mode = v
	}
	if C.Scheduler.Mode == "" {
		C.Scheduler.Mode = SchedulerModeAuto
	}
	if C.Scheduler.PollInterval <= 0 {
		C.Scheduler.PollInterval = time.Minute
	}
	if C.Scheduler.SweepInterval <= 0 {
		C.Scheduler.SweepInterval = 5 * time.Minute
	}
	if C.Scheduler.RefreshInterval <= 0 {
		C.Scheduler.RefreshInterval = 10 * time.Minute
	}
	if C.Scheduler.BatchSize <= 0 {
		C.Scheduler.BatchSize = 50
	}
	if C.Scheduler.DispatchConcurrency <= 0 {
		C.Scheduler.DispatchConcurrency = 4
	}
	if C.Scheduler.PublishTimeout <= 0 {
		C.Scheduler.PublishTimeout = 30 * time.Second
	}
	if C.Scheduler.RefreshBuffer <= 0 {
		C.Scheduler.RefreshBuffer = 5 * time.Minute
	}
	if C.RateLimit.Requests <= 0 {
		C.RateLimit.Requests = 120
	}
	if C.RateLimit.Window <= 0 {
		C.RateLimit.Window = time.Minute
	}
}

func initOAuth(C *Config) {
	if C.OAuth.StateTTL <= 0 {
		C.OAuth.StateTTL = 10 * time.Minute
	}
	C.OAuth.Twitter = withEnv(C.OAuth.Twitter, "TWITTER")
	C.OAuth.LinkedIn = withEnv(C.OAuth.LinkedIn, "LINKEDIN")
	C.OAuth.Reddit = withEnv(C.OAuth.Reddit, "REDDIT")
	C.OAuth.YouTube = withEnv(C.OAuth.YouTube, "YOUTUBE")
	if C.App.TLSEnabled {
		for _, c := range []*OAuthClient{&C.OAuth.Twitter, &C.OAuth.LinkedIn, &C.OAuth.Reddit, &C.OAuth.YouTube} {
			if c.RedirectURI != "" && !hasHTTPS(c.RedirectURI) {
				c.RedirectURI = toHTTPSCallback(c.RedirectURI)
			}
		}
	}
}

// withEnv lets <PREFIX>_CLIENT_ID style variables override the config file.
func withEnv(c OAuthClient, prefix string) OAuthClient {
	c.ClientID = getConfigValue(c.ClientID, prefix+"_CLIENT_ID", "")
	c.ClientSecret = getConfigValue(c.ClientSecret, prefix+"_CLIENT_SECRET", "")
	c.RedirectURI = getConfigValue(c.RedirectURI, prefix+"_REDIRECT_URI", "")
	if v := os.Getenv(prefix + "_SCOPES"); v != "" {
		c.Scopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
	return c
}

// getConfigValue prefers the environment, then a non-placeholder config value, then the default.
func getConfigValue(configValue, envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configValue != "" && !strings.HasPrefix(configValue, "YOUR_") {
		return configValue
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func hasHTTPS(u string) bool { return strings.HasPrefix(u, "https://") }

func toHTTPSCallback(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
