package main

import (
	"github.com/sirupsen/logrus"

	"intraday-autotrader/app"
	"intraday-autotrader/config"
)

func main() {
	// Load config from .env file
	cfg := config.LoadFromEnv()

	// Create and start app
	application, err := app.New(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	if err := application.Start(); err != nil {
		logrus.Fatal(err)
	}
}
