//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package i18n localizes the user-facing runtime errors. Only run errors
// shown to end users go through the catalog; log lines stay in English.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys of the localized run errors.
const (
	KeyRecursionLimit = "recursion limit of %d reached"
	KeyRunTimeout     = "run timed out after %s"
	KeyRunAborted     = "run aborted"
)

var matcher = language.NewMatcher([]language.Tag{
	language.English,
	language.SimplifiedChinese,
})

func init() {
	message.SetString(language.English, KeyRecursionLimit, "recursion limit of %d reached")
	message.SetString(language.English, KeyRunTimeout, "run timed out after %s")
	message.SetString(language.English, KeyRunAborted, "run aborted")
	message.SetString(language.SimplifiedChinese, KeyRecursionLimit, "已达到递归上限 %d")
	message.SetString(language.SimplifiedChinese, KeyRunTimeout, "运行超时，已执行 %s")
	message.SetString(language.SimplifiedChinese, KeyRunAborted, "运行已中止")
}

// Printer returns a message printer for the given BCP 47 language tag.
// Unknown or empty tags fall back to English.
func Printer(lang string) *message.Printer {
	if lang == "" {
		return message.NewPrinter(language.English)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return message.NewPrinter(language.English)
	}
	matched, _, _ := matcher.Match(tag)
	return message.NewPrinter(matched)
}
