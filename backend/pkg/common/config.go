package common

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	FabricConfig string
	MSP          string
	CertPath     string
	KeyPath      string
	Channel      string
	Chaincode    string
	JWTSecret    string
	DB           DBConfig
	Oracle       OracleConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// OracleConfig drives the oracle daemon: which counterpart chain to watch
// and under which registered oracle account to act.
type OracleConfig struct {
	Account        string
	SigningKeyPath string
	EthRPCURL      string
	EthBridge      string
	ChainID        uint32
	Confirmations  uint64
	PollInterval   time.Duration
	KafkaBroker    string
	KafkaTopic     string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	return &Config{
		Port:         getEnv("PORT", "8080"),
		FabricConfig: getEnv("FABRIC_CONFIG", "connection-profile.yaml"),
		MSP:          getEnv("MSP_ID", "BridgeAdminMSP"),
		CertPath:     getEnv("CERT_PATH", ""),
		KeyPath:      getEnv("KEY_PATH", ""),
		Channel:      getEnv("FABRIC_CHANNEL", "bridge-channel"),
		Chaincode:    getEnv("FABRIC_CHAINCODE", "teleport-core"),
		JWTSecret:    getEnv("JWT_SECRET", "change-me"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "teleport"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Oracle: OracleConfig{
			Account:        getEnv("ORACLE_ACCOUNT", ""),
			SigningKeyPath: getEnv("ORACLE_KEY_PATH", ""),
			EthRPCURL:      getEnv("ETH_RPC_URL", "http://localhost:8545"),
			EthBridge:      getEnv("ETH_BRIDGE_ADDRESS", ""),
			ChainID:        uint32(GetEnvInt("ETH_CHAIN_ID", 1)),
			Confirmations:  uint64(GetEnvInt("ETH_CONFIRMATIONS", 5)),
			PollInterval:   time.Duration(GetEnvInt("POLL_INTERVAL_SECONDS", 10)) * time.Second,
			KafkaBroker:    getEnv("KAFKA_BROKER", ""),
			KafkaTopic:     getEnv("KAFKA_TOPIC_BRIDGE", "bridge-events"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return fallback
}
