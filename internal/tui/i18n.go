package tui

// Supported locales: "en" (English, default), "zh" (Chinese).

var currentLocale = "en"

// SetLocale changes the active locale.
func SetLocale(locale string) {
	if _, ok := locales[locale]; ok {
		currentLocale = locale
	}
}

// CurrentLocale returns the active locale code.
func CurrentLocale() string {
	return currentLocale
}

// ToggleLocale switches between zh and en.
func ToggleLocale() {
	if currentLocale == "zh" {
		currentLocale = "en"
	} else {
		currentLocale = "zh"
	}
}

// T returns the translated string for the given key.
func T(key string) string {
	if m, ok := locales[currentLocale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := locales["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

var locales = map[string]map[string]string{
	"zh": zhStrings,
	"en": enStrings,
}

// Tab order matches tabCheckpoints..tabLogs.
var zhTabNames = []string{"大模型", "LoRA", "ControlNet", "配置", "日志"}
var enTabNames = []string{"Checkpoints", "LoRAs", "ControlNets", "Config", "Logs"}

// TabNames returns tab names in the current locale.
func TabNames() []string {
	if currentLocale == "zh" {
		return zhTabNames
	}
	return enTabNames
}

var zhStrings = map[string]string{
	"loading":          "加载中...",
	"error":            "错误",
	"status_left":      " Civitai 模型画廊",
	"status_right":     "Tab/Shift+Tab: 切换 • L: 语言 • q/Ctrl+C: 退出 ",
	"initializing_tui": "正在初始化...",

	"gallery_help":        " [空格/回车] 下一个 • [b] 基础模型 • [p] 时间段 • [r] 刷新 • [y] 复制 ID • [o] 打开页面 • [e] 指定版本",
	"gallery_empty":       "  没有可显示的模型，按 [r] 刷新",
	"gallery_loading":     "正在获取模型...",
	"gallery_model":       "模型",
	"gallery_version":     "版本",
	"gallery_base_model":  "基础模型",
	"gallery_image":       "预览图",
	"gallery_value":       "当前值",
	"gallery_exact":       "指定版本",
	"gallery_position":    "位置",
	"gallery_filters":     "过滤",
	"gallery_any":         "全部",
	"gallery_copied":      "已复制版本 ID %s",
	"gallery_opened":      "已打开 %s",
	"gallery_edit_prompt": "指定版本 ID（留空清除）: ",
	"gallery_edit_help":   "Enter: 确认 • Esc: 取消",
	"gallery_no_model":    "当前版本没有所属模型",

	"config_title": "⚙ 服务器配置",
	"config_help":  " [r] 刷新 • [↑↓] 滚动",

	"logs_title":       "📋 日志",
	"logs_auto_scroll": "● 自动滚动",
	"logs_paused":      "○ 已暂停",
	"logs_filter":      "过滤",
	"logs_lines":       "行数",
	"logs_help":        " [a] 自动滚动 • [c] 清除 • [1] 全部 [2] info+ [3] warn+ [4] error • [↑↓] 滚动",
	"logs_waiting":     "  等待日志输出...",
}

var enStrings = map[string]string{
	"loading":          "Loading...",
	"error":            "Error",
	"status_left":      " Civitai Model Gallery",
	"status_right":     "Tab/Shift+Tab: switch • L: lang • q/Ctrl+C: quit ",
	"initializing_tui": "Initializing...",

	"gallery_help":        " [space/enter] Next • [b] Base model • [p] Period • [r] Refresh • [y] Copy ID • [o] Open page • [e] Exact version",
	"gallery_empty":       "  Nothing to show, press [r] to refresh",
	"gallery_loading":     "Fetching models...",
	"gallery_model":       "Model",
	"gallery_version":     "Version",
	"gallery_base_model":  "Base model",
	"gallery_image":       "Preview",
	"gallery_value":       "Value",
	"gallery_exact":       "Exact version",
	"gallery_position":    "Position",
	"gallery_filters":     "Filters",
	"gallery_any":         "Any",
	"gallery_copied":      "Copied version id %s",
	"gallery_opened":      "Opened %s",
	"gallery_edit_prompt": "Exact version id (empty clears): ",
	"gallery_edit_help":   "Enter: apply • Esc: cancel",
	"gallery_no_model":    "Current version has no model",

	"config_title": "⚙ Server Config",
	"config_help":  " [r] Refresh • [↑↓] Scroll",

	"logs_title":       "📋 Logs",
	"logs_auto_scroll": "● AUTO-SCROLL",
	"logs_paused":      "○ PAUSED",
	"logs_filter":      "Filter",
	"logs_lines":       "Lines",
	"logs_help":        " [a] Auto-scroll • [c] Clear • [1] All [2] info+ [3] warn+ [4] error • [↑↓] Scroll",
	"logs_waiting":     "  Waiting for log output...",
}
