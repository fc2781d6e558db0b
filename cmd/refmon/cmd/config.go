package cmd

import (
	"log"
	"os"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/oneconcern/refmon/pkg/dlogger"
	"github.com/oneconcern/refmon/pkg/lock"
	"github.com/oneconcern/refmon/pkg/refs"
	"github.com/oneconcern/refmon/pkg/refs/reftable"
	"github.com/oneconcern/refmon/pkg/refs/status"
	"github.com/oneconcern/refmon/pkg/repository"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
)

// CLIConfig describes the CLI configuration.
type CLIConfig struct {
	Repository string `json:"repository" yaml:"repository"`
	LogLevel   string `json:"loglevel" yaml:"loglevel"`
	Lock       struct {
		Timeout time.Duration `json:"timeout" yaml:"timeout"`
	} `json:"lock" yaml:"lock"`
	Refs struct {
		MaxSymrefDepth int `json:"maxsymrefdepth" yaml:"maxsymrefdepth"`
	} `json:"refs" yaml:"refs"`
	Reftable struct {
		BlockSize string `json:"blocksize" yaml:"blocksize"` // human readable, e.g. 4KiB
		MaxTables int    `json:"maxtables" yaml:"maxtables"`
	} `json:"reftable" yaml:"reftable"`
	Fsck struct {
		Skiplist string            `json:"skiplist" yaml:"skiplist"`
		Severity map[string]string `json:"severity" yaml:"severity"` // check id -> error|warn|info|ignore
	} `json:"fsck" yaml:"fsck"`
	Objects struct {
		Dir   string `json:"dir" yaml:"dir"`     // loose objects, relative to the repository
		Index string `json:"index" yaml:"index"` // badger index of known objects
	} `json:"objects" yaml:"objects"`
}

var config *CLIConfig

const maxBlockSize = 16 << 20

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	err := viper.Unmarshal(&config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("repository", ".")
	viper.SetDefault("loglevel", dlogger.LogLevelWarn)
	viper.SetDefault("lock.timeout", lock.DefaultTimeout)
	viper.SetDefault("refs.maxsymrefdepth", refs.DefaultMaxSymrefDepth)
	viper.SetDefault("reftable.blocksize", units.BytesSize(reftable.DefaultBlockSize))
	viper.SetDefault("reftable.maxtables", reftable.DefaultMaxTables)
	viper.SetDefault("fsck.skiplist", "")
	viper.SetDefault("objects.dir", "objects")
	viper.SetDefault("objects.index", "")

	if os.Getenv("REFMON_CONFIG") != "" {
		viper.SetConfigFile(os.Getenv("REFMON_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.refmon")
		viper.AddConfigPath("/etc/refmon")
		viper.SetConfigName("refmon")
	}

	viper.SetEnvPrefix("refmon")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}
	var err error
	config, err = newConfig()
	if err != nil {
		logFatalln(err)
		return
	}
	config.setRefmonParams(&refmonFlags)
}

// setRefmonParams fills in flags left unset with configured values
func (c *CLIConfig) setRefmonParams(flags *flagsT) {
	if flags.root.repository == "" {
		flags.root.repository = c.Repository
	}
	if flags.root.logLevel == "" {
		flags.root.logLevel = c.LogLevel
	}
	if flags.verify.skiplist == "" {
		flags.verify.skiplist = c.Fsck.Skiplist
	}
}

// repositoryOptions translates the configuration into repository options
func (c *CLIConfig) repositoryOptions() ([]repository.Option, error) {
	blockSize := int64(refmonFlags.reftable.blockSize)
	if blockSize == 0 {
		var err error
		if blockSize, err = units.RAMInBytes(c.Reftable.BlockSize); err != nil {
			return nil, invalidConfig("reftable.blocksize", c.Reftable.BlockSize)
		}
	}
	if blockSize <= 0 || blockSize > maxBlockSize {
		return nil, invalidConfig("reftable.blocksize", units.BytesSize(float64(blockSize)))
	}
	if c.Reftable.MaxTables < 0 {
		return nil, invalidConfig("reftable.maxtables", c.Reftable.MaxTables)
	}
	return []repository.Option{
		repository.WithLogger(logger),
		repository.WithLockTimeout(c.Lock.Timeout),
		repository.WithBlockSize(uint32(blockSize)),
		repository.WithMaxTables(c.Reftable.MaxTables),
	}, nil
}

func invalidConfig(key string, value interface{}) error {
	return status.ErrInvalidArgument.Wrapf("configuration %s: invalid value %v", key, value)
}

// openRepository opens the repository designated by flags and config, or exits
func openRepository() *repository.Repository {
	opts, err := config.repositoryOptions()
	if err != nil {
		wrapFatalWithCodef(int(unix.EINVAL), "%v", err)
		return nil
	}
	repo, err := repository.Open(refmonFlags.root.repository, opts...)
	if err != nil {
		fatalWithCode("cannot open repository", err)
		return nil
	}
	return repo
}
