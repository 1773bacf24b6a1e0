package naming

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a string to snake_case.
// Examples: userName -> user_name, UserName -> user_name, HTTPServer -> http_server, userID -> user_id
func ToSnakeCase(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder
	result.Grow(len(s) + 4)

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			// 前一个字符为小写/数字，或处于缩写结尾（HTTPServer 的 S）时补下划线
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					result.WriteByte('_')
				} else if i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
					result.WriteByte('_')
				}
			}
			result.WriteRune(unicode.ToLower(r))
		case r == '-' || r == ' ':
			result.WriteByte('_')
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// ToPascalCase converts a string to PascalCase.
// Examples: user_name -> UserName, user-name -> UserName
func ToPascalCase(s string) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(s))

	capitalizeNext := true
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			capitalizeNext = true
			continue
		}
		if capitalizeNext {
			result.WriteRune(unicode.ToUpper(r))
			capitalizeNext = false
		} else {
			result.WriteRune(unicode.ToLower(r))
		}
	}

	return result.String()
}

// ToCamelCase converts a string to camelCase.
// Examples: user_name -> userName, user -> user
func ToCamelCase(s string) string {
	pascal := ToPascalCase(s)
	if pascal == "" {
		return ""
	}
	runes := []rune(pascal)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

// Pluralize 基于后缀的确定性复数规则：
//
//	y              -> ies   (category -> categories)
//	s/sh/ch/x/z    -> +es   (box -> boxes)
//	其他            -> +s
func Pluralize(word string) string {
	if word == "" {
		return ""
	}
	lower := strings.ToLower(word)
	switch {
	case strings.HasSuffix(lower, "y"):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(lower, "s"),
		strings.HasSuffix(lower, "sh"),
		strings.HasSuffix(lower, "ch"),
		strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "z"):
		return word + "es"
	default:
		return word + "s"
	}
}

// Singularize 仅在常见情形下是 Pluralize 的左逆，不是通用的英语词形还原
func Singularize(word string) string {
	lower := strings.ToLower(word)
	switch {
	case strings.HasSuffix(lower, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(lower, "sses"),
		strings.HasSuffix(lower, "shes"),
		strings.HasSuffix(lower, "ches"),
		strings.HasSuffix(lower, "xes"),
		strings.HasSuffix(lower, "zes"):
		return word[:len(word)-2]
	case strings.HasSuffix(lower, "ss"):
		return word
	case strings.HasSuffix(lower, "s") && len(word) > 1:
		return word[:len(word)-1]
	default:
		return word
	}
}

// splitWords 按驼峰/下划线边界拆分单词，保留原大小写
func splitWords(s string) []string {
	snake := ToSnakeCase(s)
	parts := strings.Split(snake, "_")
	words := make([]string, 0, len(parts))
	runes := []rune(s)
	pos := 0
	for _, part := range parts {
		if part == "" {
			continue
		}
		for pos < len(runes) && (runes[pos] == '_' || runes[pos] == '-' || runes[pos] == ' ') {
			pos++
		}
		n := len([]rune(part))
		if pos+n > len(runes) {
			break
		}
		words = append(words, string(runes[pos:pos+n]))
		pos += n
	}
	return words
}
