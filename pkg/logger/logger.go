package logger

import "fmt"

// Info 부팅/운영 메시지용 printf 스타일 로그
func Info(format string, args ...interface{}) {
	zlog.Info().Msg(fmt.Sprintf(format, args...))
}

// Warn printf-style warning
func Warn(format string, args ...interface{}) {
	zlog.Warn().Msg(fmt.Sprintf(format, args...))
}

// Error printf-style error
func Error(format string, args ...interface{}) {
	zlog.Error().Msg(fmt.Sprintf(format, args...))
}

// Debug printf-style debug
func Debug(format string, args ...interface{}) {
	zlog.Debug().Msg(fmt.Sprintf(format, args...))
}
