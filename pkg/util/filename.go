package util

import "strings"

// StripExtension 去掉文件名最后一个扩展名（"Report.pdf" -> "Report"）
// 隐藏文件（".env"）以及无扩展名的文件名原样返回。
func StripExtension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name
	}
	return name[:idx]
}
