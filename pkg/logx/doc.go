// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the bot logs through one stable API while the
// active sinks (console, file, operator Telegram chat) can be swapped at
// runtime via Service.Apply. The zero-value Logger is a safe no-op.
package logx
