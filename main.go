// 大牛大巨婴 - ModbusBaby Go版本
// Big Giant Baby - ModbusBaby Go Edition
package main

import (
	"modbusbaby/internal/config"
	"modbusbaby/internal/gui"
	"modbusbaby/internal/logger"
)

var (
	version = "2.0.0"
	author  = "Daniel BigGiantBaby (大牛大巨婴)"
)

func main() {
	logger.Init()
	logger.Logger.Infof("ModbusBaby v%s - by %s", version, author)

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Warnf("config load failed, using defaults: %v", err)
		cfg = config.Default()
	}

	app := gui.NewApp(cfg, logger.Logger, version, author)
	app.ShowAndRun()
}
