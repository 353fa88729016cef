package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Ledger struct {
	// DBPath is the Pebble database directory holding all ledger state.
	DBPath string
	// Rent is the native-currency deposit charged when a balance account or
	// order record is created, refunded when the record is closed.
	Rent uint64
}

type API struct {
	Listen string
}

type Config struct {
	Ledger  Ledger
	API     API
	LogFile string
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			DBPath: "./data/wattswap.db",
			Rent:   1000,
		},
		API: API{
			Listen: ":8080",
		},
		LogFile: "data/node.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if db := os.Getenv("WATTSWAP_DB"); db != "" {
		cfg.Ledger.DBPath = db
	}

	if rent := os.Getenv("WATTSWAP_RENT"); rent != "" {
		if n, err := strconv.ParseUint(rent, 10, 64); err == nil {
			cfg.Ledger.Rent = n
		}
	}

	if listen := os.Getenv("WATTSWAP_LISTEN"); listen != "" {
		cfg.API.Listen = listen
	}

	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}

	return cfg
}
