// Package tgui holds small Telegram UI helpers: inline keyboard builders,
// "plugin:action:payload" callback data, and HTML escaping for
// ParseMode="HTML" texts.
package tgui
