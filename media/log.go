package media

import "github.com/luxcast/luxcast"

func logi(msg string, args ...any) { luxcast.Logger().Info(msg, args...) }
func logw(msg string, args ...any) { luxcast.Logger().Warn(msg, args...) }
