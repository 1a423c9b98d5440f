package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ForeignKeyColumn 子表引用父表时使用的外键列名：camelCase(parent) + "Id"
// 关联关系完全由这个约定推导，所有调用方都必须经过这里
func ForeignKeyColumn(parentTable string) string {
	return CamelCase(parentTable) + "Id"
}

// CamelCase 把 snake_case、kebab-case、空格分隔或 PascalCase 的名称转换为 camelCase
func CamelCase(name string) string {
	words := splitWords(name)
	if len(words) == 0 {
		return ""
	}
	// Caser 有状态，不能跨 goroutine 共享
	lowerCaser := cases.Lower(language.Und)
	titleCaser := cases.Title(language.Und)
	var sb strings.Builder
	sb.WriteString(lowerCaser.String(words[0]))
	for _, w := range words[1:] {
		sb.WriteString(titleCaser.String(w))
	}
	return sb.String()
}

// splitWords 在分隔符以及小写到大写的边界处切分单词
func splitWords(name string) []string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && i > 0 && len(current) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return words
}

// IndexName 索引命名：普通索引 idx_<table>_<fields>，唯一索引 uk_<table>_<fields>
func IndexName(table string, unique bool, fields ...string) string {
	prefix := "idx"
	if unique {
		prefix = "uk"
	}
	return prefix + "_" + table + "_" + strings.Join(fields, "_")
}

// ForeignKeyName 外键约束名
func ForeignKeyName(table, column string) string {
	return "fk_" + table + "_" + column
}

// ShadowTable 重建表时使用的影子表名
func ShadowTable(table string) string {
	return table + "_shadow"
}
