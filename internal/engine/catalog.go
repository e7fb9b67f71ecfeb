package engine

import "strings"

// ModelInfo 描述一个候选本地模型。
type ModelInfo struct {
	ID        string `json:"id"`
	SizeClass string `json:"sizeClass"`
}

// allowedFamilies 是可在浏览器侧设备上运行的模型家族白名单，
// 候选列表按模型 ID 的子串匹配过滤。
var allowedFamilies = []string{
	"llama",
	"qwen",
	"gemma",
	"phi",
	"mistral",
	"smollm",
}

// catalog 是静态维护的候选模型清单。
var catalog = []ModelInfo{
	{ID: "Llama-3.2-1B-Instruct-q4f16_1", SizeClass: "small"},
	{ID: "Llama-3.2-3B-Instruct-q4f16_1", SizeClass: "medium"},
	{ID: "Llama-3.1-8B-Instruct-q4f16_1", SizeClass: "large"},
	{ID: "Qwen2.5-0.5B-Instruct-q4f16_1", SizeClass: "small"},
	{ID: "Qwen2.5-1.5B-Instruct-q4f16_1", SizeClass: "small"},
	{ID: "Qwen2.5-7B-Instruct-q4f16_1", SizeClass: "large"},
	{ID: "gemma-2-2b-it-q4f16_1", SizeClass: "medium"},
	{ID: "Phi-3.5-mini-instruct-q4f16_1", SizeClass: "medium"},
	{ID: "Mistral-7B-Instruct-v0.3-q4f16_1", SizeClass: "large"},
	{ID: "SmolLM2-360M-Instruct-q4f16_1", SizeClass: "small"},
	{ID: "SmolLM2-1.7B-Instruct-q4f16_1", SizeClass: "small"},
}

// filterByFamily 只保留 ID 中含有白名单家族名的模型，保持原有顺序。
func filterByFamily(models []ModelInfo) []ModelInfo {
	var out []ModelInfo
	for _, m := range models {
		id := strings.ToLower(m.ID)
		for _, fam := range allowedFamilies {
			if strings.Contains(id, fam) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
