package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	API     APIConfig     `yaml:"api"`
	Sheets  SheetsConfig  `yaml:"sheets"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`

	// PrivateKey nunca viene del YAML: solo de POLYMARKET_PRIVATE_KEY.
	PrivateKey string `yaml:"-"`
}

// EngineConfig controla los timers y umbrales del engine.
type EngineConfig struct {
	TickSeconds          int     `yaml:"tick_seconds"`           // re-evaluación de mercados sin eventos
	SummarySeconds       int     `yaml:"summary_seconds"`        // tabla de estado por consola
	ConfigRefreshSeconds int     `yaml:"config_refresh_seconds"` // polling del spreadsheet
	StaleBookSeconds     int     `yaml:"stale_book_seconds"`     // edad máxima de un book antes de no cotizar
	ResyncSeconds        int     `yaml:"resync_seconds"`         // refresh periódico de órdenes abiertas
	VolWindowSeconds     int     `yaml:"vol_window_seconds"`     // ventana de muestras para volatilidad
	InboxCapacity        int     `yaml:"inbox_capacity"`
	MinMergeSize         float64 `yaml:"min_merge_size"` // tamaño mínimo en AMBOS tokens antes de un merge
}

// APIConfig contiene endpoints de Polymarket y del RPC de Polygon.
type APIConfig struct {
	CLOBBase    string `yaml:"clob_base"`
	WSMarketURL string `yaml:"ws_market_url"`
	WSUserURL   string `yaml:"ws_user_url"`
	RPCURL      string `yaml:"rpc_url"`
}

// SheetsConfig apunta al Google Sheet publicado con mercados y perfiles.
type SheetsConfig struct {
	BaseURL string `yaml:"base_url"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// TickInterval devuelve el intervalo de re-evaluación como time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickSeconds) * time.Second
}

// SummaryInterval devuelve el intervalo entre tablas de estado.
func (c *Config) SummaryInterval() time.Duration {
	return time.Duration(c.Engine.SummarySeconds) * time.Second
}

// ConfigRefreshInterval devuelve el intervalo de polling del spreadsheet.
func (c *Config) ConfigRefreshInterval() time.Duration {
	return time.Duration(c.Engine.ConfigRefreshSeconds) * time.Second
}

// StaleBookAge devuelve la edad máxima tolerada de un snapshot del book.
func (c *Config) StaleBookAge() time.Duration {
	return time.Duration(c.Engine.StaleBookSeconds) * time.Second
}

// ResyncInterval devuelve el intervalo del refresh periódico de órdenes abiertas.
func (c *Config) ResyncInterval() time.Duration {
	return time.Duration(c.Engine.ResyncSeconds) * time.Second
}

// VolWindow devuelve la ventana de muestras para el cálculo de volatilidad.
func (c *Config) VolWindow() time.Duration {
	return time.Duration(c.Engine.VolWindowSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	cfg.PrivateKey = os.Getenv("POLYMARKET_PRIVATE_KEY")
	if v := os.Getenv("SHEETS_BASE_URL"); v != "" {
		cfg.Sheets.BaseURL = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.API.RPCURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.TickSeconds <= 0 {
		cfg.Engine.TickSeconds = 10
	}
	if cfg.Engine.SummarySeconds <= 0 {
		cfg.Engine.SummarySeconds = 60
	}
	if cfg.Engine.ConfigRefreshSeconds <= 0 {
		cfg.Engine.ConfigRefreshSeconds = 300
	}
	if cfg.Engine.StaleBookSeconds <= 0 {
		cfg.Engine.StaleBookSeconds = 30
	}
	if cfg.Engine.ResyncSeconds <= 0 {
		cfg.Engine.ResyncSeconds = 300
	}
	if cfg.Engine.VolWindowSeconds <= 0 {
		cfg.Engine.VolWindowSeconds = 300
	}
	if cfg.Engine.MinMergeSize <= 0 {
		cfg.Engine.MinMergeSize = 1.0
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.RPCURL == "" {
		cfg.API.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "mmbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza configuraciones con las que el bot no puede arrancar.
// Acumula todos los problemas en vez de parar en el primero.
func (c *Config) validate() error {
	var problems []string
	if c.PrivateKey == "" {
		problems = append(problems, "POLYMARKET_PRIVATE_KEY no está definida")
	}
	if c.Sheets.BaseURL == "" {
		problems = append(problems, "sheets.base_url (o SHEETS_BASE_URL) es obligatoria")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %v", problems)
}
