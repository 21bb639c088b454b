package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/canopy-network/fastpath/authority"
	"github.com/canopy-network/fastpath/cmd/rpc"
	"github.com/canopy-network/fastpath/lib"
	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/canopy-network/fastpath/store"
	"github.com/spf13/cobra"
)

const (
	// AccountKeyPath is the file holding the key of the account funded at genesis
	AccountKeyPath = "account_key.json"
	// genesisBalance is the balance of each gas coin created by init
	genesisBalance = 1_000_000_000
	genesisCoins   = 5
)

var rootCmd = &cobra.Command{
	Use:   "fastpath",
	Short: "an authority of a byzantine consistent object ledger",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rpc.SoftwareVersion)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "write the default config, a validator key and a single authority genesis",
	Run: func(cmd *cobra.Command, args []string) {
		InitializeDataDirectory(dataDir, lib.NewDefaultLogger())
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the authority",
	Run: func(cmd *cobra.Command, args []string) {
		Start(dataDir)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [rpc address]",
	Short: "query the status of a running authority",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		address := lib.DefaultRPCConfig().RPCAddress
		if len(args) == 1 {
			address = args[0]
		}
		status, err := rpc.NewClient(address, 5*time.Second).Status(context.Background())
		if err != nil {
			log.Fatal(err.Error())
		}
		bz, err := lib.MarshalJSONIndent(status)
		if err != nil {
			log.Fatal(err.Error())
		}
		fmt.Println(string(bz))
	},
}

var dataDir string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute() runs the command line
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// Start() is the entrypoint of the authority
func Start(dataDirPath string) {
	config, validatorKey, genesis := InitializeDataDirectory(dataDirPath, lib.NewDefaultLogger())
	l := lib.NewLogger(lib.LoggerConfig{Level: config.GetLogLevel()}, config.DataDirPath)
	// initialize the metrics server
	metrics := lib.NewMetricsServer(config.MetricsConfig, l)
	// open the database
	db, err := store.New(config.StoreConfig, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	committee, err := genesis.Committee()
	if err != nil {
		l.Fatal(err.Error())
	}
	state, err := authority.NewState(config, validatorKey, committee, db, metrics, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	// a no-op on an existing store
	if err = state.InitGenesis(genesis); err != nil {
		l.Fatal(err.Error())
	}
	l.Infof("Starting authority %s of epoch %d (%d authorities)", state.Name, committee.Epoch, committee.Size())
	rpcServer := rpc.NewServer(state, config.RPCConfig, l)
	metrics.Start()
	rpcServer.Start()
	// block until a kill signal is received
	waitForKill(l)
	rpcServer.Stop()
	metrics.Stop()
	if err = db.Close(); err != nil {
		l.Error(err.Error())
	}
	os.Exit(0)
}

// waitForKill() blocks until a kill signal is received
func waitForKill(l lib.LoggerI) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGABRT)
	s := <-stop
	l.Infof("Exit command %s received", s)
}

// InitializeDataDirectory() populates the data directory with configuration and key files if missing
// and loads them
func InitializeDataDirectory(dataDirPath string, log lib.LoggerI) (c lib.Config, validatorKey crypto.PrivateKeyI, genesis *lib.GenesisConfig) {
	// make the data dir if missing
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		log.Fatal(err.Error())
	}
	// make the config.json file if missing
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.ConfigFilePath)
		if err = lib.DefaultConfig().WriteToFile(configFilePath); err != nil {
			log.Fatal(err.Error())
		}
	}
	// make the validator key file if missing
	validatorKeyPath := filepath.Join(dataDirPath, lib.ValKeyPath)
	if _, err := os.Stat(validatorKeyPath); errors.Is(err, os.ErrNotExist) {
		blsPrivateKey, e := crypto.NewBLSPrivateKey()
		if e != nil {
			log.Fatal(e.Error())
		}
		log.Infof("Creating %s file", lib.ValKeyPath)
		if err = crypto.PrivateKeyToFile(blsPrivateKey, validatorKeyPath); err != nil {
			log.Fatal(err.Error())
		}
	}
	validatorKey, err := crypto.NewBLSPrivateKeyFromFile(validatorKeyPath)
	if err != nil {
		log.Fatal(err.Error())
	}
	c, err = lib.NewConfigFromFile(configFilePath)
	if err != nil {
		log.Fatal(err.Error())
	}
	c.DataDirPath = dataDirPath
	// make a single authority genesis funding a new account if missing
	genesisFilePath := filepath.Join(dataDirPath, lib.GenesisFilePath)
	if _, err = os.Stat(genesisFilePath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.GenesisFilePath)
		WriteDefaultGenesisFile(dataDirPath, validatorKey, c.RPCAddress, log)
	}
	genesis, e := lib.NewGenesisFromFile(genesisFilePath)
	if e != nil {
		log.Fatal(e.Error())
	}
	return
}

// WriteDefaultGenesisFile() writes a genesis where the validator is the only authority and a new account,
// whose key is saved next to it, owns a few gas coins
func WriteDefaultGenesisFile(dataDirPath string, validatorKey crypto.PrivateKeyI, rpcAddress string, log lib.LoggerI) {
	accountKey, err := crypto.NewEd25519PrivateKey()
	if err != nil {
		log.Fatal(err.Error())
	}
	log.Infof("Creating %s file", AccountKeyPath)
	if err = crypto.PrivateKeyToFile(accountKey, filepath.Join(dataDirPath, AccountKeyPath)); err != nil {
		log.Fatal(err.Error())
	}
	owner := lib.NewAddressFromPublicKey(accountKey.PublicKey())
	genesis := &lib.GenesisConfig{
		Epoch: 1,
		Authorities: []lib.GenesisAuthority{{
			Name:       lib.NewAuthorityName(validatorKey.PublicKey()),
			Weight:     1,
			RPCAddress: rpcAddress,
		}},
	}
	for i := 0; i < genesisCoins; i++ {
		genesis.GasObjects = append(genesis.GasObjects, lib.GenesisGasObject{ID: lib.NewObjectID(), Owner: owner, Balance: genesisBalance})
	}
	if e := genesis.WriteToFile(filepath.Join(dataDirPath, lib.GenesisFilePath)); e != nil {
		log.Fatal(e.Error())
	}
}
