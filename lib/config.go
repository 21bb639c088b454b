package lib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

/* This file implements the 'user controlled' configuration of each module of the authority */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath  = "config.json"        // the file path for the authority configuration
	ValKeyPath      = "validator_key.json" // the file path for the authority's BLS private key
	GenesisFilePath = "genesis.json"       // the file path for the committee and genesis objects
)

// Config is the structure of the user configuration options for an authority
type Config struct {
	MainConfig       // options spanning over all modules
	AuthorityConfig  // request handler options
	AggregatorConfig // client side quorum options
	StoreConfig      // persistence options
	RPCConfig        // rpc API options
	MetricsConfig    // telemetry options
	GasConfig        // execution pricing
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:       DefaultMainConfig(),
		AuthorityConfig:  DefaultAuthorityConfig(),
		AggregatorConfig: DefaultAggregatorConfig(),
		StoreConfig:      DefaultStoreConfig(),
		RPCConfig:        DefaultRPCConfig(),
		MetricsConfig:    DefaultMetricsConfig(),
		GasConfig:        DefaultGasConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel string `json:"logLevel"` // any level includes the levels above it: debug < info < warning < error
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig { return MainConfig{LogLevel: "info"} }

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 {
	switch {
	case strings.Contains(strings.ToLower(m.LogLevel), "deb"):
		return DebugLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "inf"):
		return InfoLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "war"):
		return WarnLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// AUTHORITY CONFIG BELOW

// AuthorityConfig tunes the server side request handlers
type AuthorityConfig struct {
	LockStripes     int  `json:"lockStripes"`     // number of mutexes objects are hashed onto
	ObjectCacheSize int  `json:"objectCacheSize"` // number of latest objects kept in memory
	Checkpoints     bool `json:"checkpoints"`     // feed executed certificates into the checkpoint store
}

// DefaultAuthorityConfig() returns the developer recommended handler options
func DefaultAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{
		LockStripes:     1024,
		ObjectCacheSize: 10_000,
		Checkpoints:     true,
	}
}

// AGGREGATOR CONFIG BELOW

// AggregatorConfig holds the timeouts and retry policy of the client side quorum driver
type AggregatorConfig struct {
	PreQuorumTimeoutMS  uint64 `json:"preQuorumTimeoutMS"`  // how long a broadcast waits before a quorum has answered
	PostQuorumTimeoutMS uint64 `json:"postQuorumTimeoutMS"` // how long a broadcast keeps waiting for stragglers after quorum
	RequestTimeoutMS    uint64 `json:"requestTimeoutMS"`    // the deadline of a single call to one authority
	CatchUpRetries      int    `json:"catchUpRetries"`      // how many source authorities are tried when replaying certificates
	CatchUpBackoffMS    uint64 `json:"catchUpBackoffMS"`    // initial backoff between catch up attempts
	SyncMaxRounds       int    `json:"syncMaxRounds"`       // bound on the owned object synchronization fixpoint
}

// DefaultAggregatorConfig() returns the developer recommended quorum options
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		PreQuorumTimeoutMS:  60_000,
		PostQuorumTimeoutMS: 7_000,
		RequestTimeoutMS:    30_000,
		CatchUpRetries:      4,
		CatchUpBackoffMS:    50,
		SyncMaxRounds:       3,
	}
}

func (a AggregatorConfig) PreQuorumTimeout() time.Duration {
	return time.Duration(a.PreQuorumTimeoutMS) * time.Millisecond
}
func (a AggregatorConfig) PostQuorumTimeout() time.Duration {
	return time.Duration(a.PostQuorumTimeoutMS) * time.Millisecond
}
func (a AggregatorConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutMS) * time.Millisecond
}

// STORE CONFIG BELOW

// StoreConfig is user configuration for the key value database
type StoreConfig struct {
	DataDirPath      string `json:"dataDirPath"`      // path of the designated folder where the application stores its data
	DBName           string `json:"dbName"`           // name of the database
	InMemory         bool   `json:"inMemory"`         // non-disk database, only for testing
	MemTableSize     int64  `json:"memTableSize"`     // badger memtable size in bytes
	ValueLogFileSize int64  `json:"valueLogFileSize"` // badger value log file size in bytes
}

// DefaultDataDirPath() is $USERHOME/.fastpath
func DefaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".fastpath")
}

// DefaultStoreConfig() returns the developer recommended store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DataDirPath:      DefaultDataDirPath(),
		DBName:           "authority",
		InMemory:         false,
		MemTableSize:     int64(64 * units.MiB),
		ValueLogFileSize: int64(256 * units.MiB),
	}
}

// RPC CONFIG BELOW

type RPCConfig struct {
	RPCAddress   string `json:"rpcAddress"`   // the address where the authority rpc server listens
	TimeoutS     int    `json:"timeoutS"`     // the rpc request timeout in seconds
	MaxBodyBytes int64  `json:"maxBodyBytes"` // the largest request body accepted
}

// DefaultRPCConfig() serves the rpc on localhost:50002
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RPCAddress:   "0.0.0.0:50002",
		TimeoutS:     5,
		MaxBodyBytes: int64(4 * units.MiB),
	}
}

// METRICS CONFIG BELOW

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`           // if the metrics are enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           true,
		PrometheusAddress: "0.0.0.0:9090",
	}
}

// GAS CONFIG BELOW

// GasConfig prices execution; every authority of a committee must run with the same values
type GasConfig struct {
	TransferCost       uint64 `json:"transferCost"`       // computation units charged per transfer
	CallCost           uint64 `json:"callCost"`           // computation units charged per native call
	PublishCostPerByte uint64 `json:"publishCostPerByte"` // computation units charged per published module byte
	StorageBytePrice   uint64 `json:"storageBytePrice"`   // storage units charged per stored object byte
	MaxGasBudget       uint64 `json:"maxGasBudget"`       // the largest budget a transaction may declare
}

// DefaultGasConfig() returns the developer set prices
func DefaultGasConfig() GasConfig {
	return GasConfig{
		TransferCost:       10,
		CallCost:           50,
		PublishCostPerByte: 2,
		StorageBytePrice:   1,
		MaxGasBudget:       1_000_000_000,
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) error {
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, jsonBytes, os.ModePerm)
}

// NewConfigFromFile() populates a Config object from a JSON file, defaults fill in any blanks
func NewConfigFromFile(filepath string) (Config, error) {
	fileBytes, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, err
	}
	c := DefaultConfig()
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
