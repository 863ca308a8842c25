package patterns

// =============================================================================
// PATTERN DEFINITIONS BY CATEGORY
// All patterns are registered here and compiled once at package init.
// This provides a single source of truth for all attack patterns.
//
// Patterns run against canonicalized fragments: percent-decoded and
// lower-cased. (?i) is kept anyway so the same table works on raw text.
// =============================================================================

// --- SQL INJECTION ---
func (r *Registry) registerSQLInjectionPatterns() {
	cat := CategorySQLInjection

	// Union-based extraction
	r.register("sql_union_select", `(?i)\bunion(\s+all)?\s+select\b`, cat, 85, "UNION SELECT extraction")
	r.register("sql_union_null", `(?i)\bunion\s+select\s+null\b`, cat, 88, "UNION SELECT NULL column probe")

	// Boolean-based bypass
	r.register("sql_boolean_numeric", `(?i)\b(or|and)\b\s+\d+\s*=\s*\d+`, cat, 75, "Numeric boolean bypass (or 1=1)")
	r.register("sql_boolean_quoted", `(?i)'\s*(or|and)\s+'[^']*'\s*=\s*'`, cat, 80, "Quoted boolean bypass ('or '1'='1)")

	// Comment truncation
	r.register("sql_comment_tail", `(?i)(--|#)\s*$`, cat, 60, "Trailing comment truncation")
	r.register("sql_inline_comment", `/\*[^*]*\*/`, cat, 50, "Inline comment obfuscation")

	// Stacked/destructive queries
	r.register("sql_stacked_query", `(?i)';?\s*(drop|delete|insert|update|truncate|create|alter)\b`, cat, 90, "Stacked query after quote break")
	r.register("sql_drop_table", `(?i)\bdrop\s+table\b`, cat, 90, "DROP TABLE")

	// Time-based blind
	r.register("sql_time_sleep", `(?i)\b(sleep|pg_sleep)\s*\(\s*\d+`, cat, 85, "Time-based blind (SLEEP)")
	r.register("sql_time_waitfor", `(?i)\bwaitfor\s+delay\b`, cat, 85, "Time-based blind (WAITFOR)")
	r.register("sql_benchmark", `(?i)\bbenchmark\s*\(\s*\d+\s*,`, cat, 80, "Time-based blind (BENCHMARK)")

	// Enumeration probes
	r.register("sql_order_by_probe", `(?i)\border\s+by\s+\d+\s*(--|#)`, cat, 70, "Column count probe")
	r.register("sql_info_schema", `(?i)\binformation_schema\b`, cat, 80, "information_schema enumeration")
	r.register("sql_version_probe", `(?i)@@(version|datadir|hostname)`, cat, 75, "Server variable probe")
	r.register("sql_load_file", `(?i)\b(load_file\s*\(|into\s+(out|dump)file\b)`, cat, 85, "File read/write via SQL")
	r.register("sql_concat_probe", `(?i)\b(group_concat|concat_ws)\s*\(`, cat, 55, "Concat-based extraction")
}

// --- CROSS-SITE SCRIPTING ---
func (r *Registry) registerXSSPatterns() {
	cat := CategoryXSS

	r.register("xss_script_tag", `(?i)<\s*script\b`, cat, 85, "Script tag")
	r.register("xss_close_script", `(?i)<\s*/\s*script\s*>`, cat, 80, "Closing script tag")
	r.register("xss_event_handler", `(?i)\bon(error|load|click|mouseover|focus|submit|input|pointerover|animationstart)\s*=`, cat, 80, "Inline event handler")
	r.register("xss_javascript_url", `(?i)javascript\s*:`, cat, 75, "javascript: URL")
	r.register("xss_iframe", `(?i)<\s*iframe\b`, cat, 75, "Iframe injection")
	r.register("xss_svg_probe", `(?i)<\s*svg\b`, cat, 70, "SVG vector")
	r.register("xss_img_probe", `(?i)<\s*img\b[^>]*\bsrc\b`, cat, 65, "Image tag probe")
	r.register("xss_document_cookie", `(?i)document\s*\.\s*cookie`, cat, 80, "Cookie theft")
	r.register("xss_eval_call", `(?i)\beval\s*\(`, cat, 70, "eval() call")
	r.register("xss_alert_probe", `(?i)\b(alert|prompt|confirm)\s*\(`, cat, 60, "Popup probe")
	r.register("xss_data_url_html", `(?i)data\s*:\s*text/html`, cat, 70, "data: text/html URL")
	r.register("xss_srcdoc", `(?i)\bsrcdoc\s*=`, cat, 70, "Iframe srcdoc payload")
	r.register("xss_expression_css", `(?i)\bexpression\s*\(`, cat, 65, "CSS expression()")
}

// --- COMMAND INJECTION ---
func (r *Registry) registerCommandInjectionPatterns() {
	cat := CategoryCommandInj

	r.register("cmd_chained_binary", `(?i)[;&|]\s*(cat|ls|id|whoami|uname|pwd|curl|wget|nc|bash|sh|python|perl|php)\b`, cat, 80, "Shell metachar then binary")
	r.register("cmd_substitution", `\$\([^)]+\)`, cat, 70, "Command substitution $(...)")
	r.register("cmd_backtick", "`[^`]+`", cat, 70, "Backtick command substitution")
	r.register("cmd_read_etc", `(?i)\b(cat|less|more|head|tail)\s+/etc/`, cat, 85, "Read under /etc")
	r.register("cmd_rm_rf", `(?i)\brm\s+-rf?\b`, cat, 90, "Recursive delete")
	r.register("cmd_dev_tcp", `(?i)/dev/(tcp|udp)/`, cat, 90, "Bash network redirection")
	r.register("cmd_nc_connect", `(?i)\bnc\s+(-[a-z]+\s+)*\d{1,3}(\.\d{1,3}){3}`, cat, 85, "Netcat to raw IP")
	r.register("cmd_pipe_shell", `(?i)\|\s*(ba|z|k)?sh\b`, cat, 85, "Pipe to shell")
	r.register("cmd_fetch_then_run", `(?i)\b(curl|wget)\b[^|;&]*[|;&]`, cat, 75, "Fetch chained to execution")
	r.register("cmd_base64_decode", `(?i)\bbase64\s+(-d|--decode)\b`, cat, 65, "Inline base64 decode")
	r.register("cmd_powershell_enc", `(?i)\bpowershell\b[^|;&]*-enc`, cat, 85, "Encoded PowerShell")
	r.register("cmd_ifs_expansion", `\$\{?ifs\}?`, cat, 75, "IFS whitespace evasion")
}

// --- PATH TRAVERSAL ---
func (r *Registry) registerPathTraversalPatterns() {
	cat := CategoryPathTraversal

	r.register("trav_dotdot_repeat", `(\.\./){2,}`, cat, 75, "Repeated ../ climb")
	r.register("trav_dotdot_single", `\.\./`, cat, 45, "Single ../ step")
	r.register("trav_dotdot_backslash", `(\.\.\\){2,}`, cat, 75, "Windows ..\\ climb")
	r.register("trav_encoded", `(?i)%2e%2e[%2f%5c]`, cat, 80, "Still-encoded traversal")
	r.register("trav_etc_sensitive", `(?i)/etc/(passwd|shadow|hosts|sudoers)`, cat, 85, "Linux sensitive file")
	r.register("trav_proc_self", `(?i)/proc/self/`, cat, 80, "Proc filesystem access")
	r.register("trav_windows_system32", `(?i)c:\\+windows\\+system32`, cat, 80, "Windows System32 path")
	r.register("trav_win_ini", `(?i)\b(boot|win)\.ini\b`, cat, 75, "Windows INI probe")
	r.register("trav_null_byte", `%00`, cat, 80, "Null byte truncation")
	r.register("trav_ssh_keys", `(?i)\.ssh/(id_rsa|id_ed25519|authorized_keys)`, cat, 85, "SSH key material path")
}

// --- SERVER-SIDE REQUEST FORGERY ---
func (r *Registry) registerSSRFPatterns() {
	cat := CategorySSRF

	// Cloud metadata endpoints
	r.register("ssrf_aws_metadata", `https?://169\.254\.169\.254`, cat, 90, "AWS metadata endpoint")
	r.register("ssrf_gcp_metadata", `(?i)https?://metadata\.google\.internal`, cat, 90, "GCP metadata endpoint")
	r.register("ssrf_alibaba_metadata", `https?://100\.100\.100\.200`, cat, 90, "Alibaba Cloud metadata")

	// Kubernetes
	r.register("ssrf_k8s_default", `(?i)https?://kubernetes\.default`, cat, 85, "Kubernetes default service")

	// Loopback and private ranges
	r.register("ssrf_localhost", `(?i)https?://(localhost|127\.0\.0\.1|0\.0\.0\.0)`, cat, 75, "Loopback target")
	r.register("ssrf_private_10", `https?://10\.\d+\.\d+\.\d+`, cat, 70, "Private 10.x.x.x target")
	r.register("ssrf_private_172", `https?://172\.(1[6-9]|2[0-9]|3[0-1])\.\d+\.\d+`, cat, 70, "Private 172.16-31.x.x target")
	r.register("ssrf_private_192", `https?://192\.168\.\d+\.\d+`, cat, 70, "Private 192.168.x.x target")

	// Alternate schemes
	r.register("ssrf_file_scheme", `(?i)file:///`, cat, 80, "file:// scheme")
	r.register("ssrf_gopher_scheme", `(?i)gopher://`, cat, 80, "gopher:// scheme")
	r.register("ssrf_dict_scheme", `(?i)dict://`, cat, 75, "dict:// scheme")
}
