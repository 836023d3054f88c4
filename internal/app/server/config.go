package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	IdleTimeout time.Duration
	MaxSessions int32

	AwsRegion         string
	CognitoUserPoolId string

	RedisAddress  string
	RedisPassword string
	OnlineTTL     time.Duration
}

func NewConfig() Config {
	var config Config

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs/server")
	viper.AddConfigPath(".")
	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	// List of env files to load
	envFiles := []string{
		"./configs/aws/base.env",
		"./configs/aws/cognito.env",
		"./configs/redis/redis.env",
	}

	// Load all env files
	err = loadEnvFiles(envFiles)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	config.Port = viper.GetString("Server.Port")
	idleTimeout, err := time.ParseDuration(viper.GetString("Server.IdleTimeout"))
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}
	config.IdleTimeout = idleTimeout
	config.MaxSessions = viper.GetInt32("Server.MaxSessions")
	onlineTTL, err := time.ParseDuration(viper.GetString("Server.OnlineTTL"))
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}
	config.OnlineTTL = onlineTTL
	config.AwsRegion = viper.GetString("AWS_REGION")
	config.CognitoUserPoolId = viper.GetString("COGNITO_USER_POOL_ID")
	config.RedisAddress = viper.GetString("REDIS_ADDRESS")
	config.RedisPassword = viper.GetString("REDIS_PASSWORD")

	return config
}

func loadEnvFiles(filenames []string) error {
	for _, file := range filenames {
		viper.SetConfigFile(file) // Set specific file
		viper.SetConfigType("env")
		viper.AutomaticEnv() // Allow override by OS environment variables

		err := viper.MergeInConfig()
		if err != nil {
			return err
		}
	}
	return nil
}
