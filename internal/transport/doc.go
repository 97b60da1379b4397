// Package transport 提供原始远程访问能力：读取元数据、读取正文、上传与目录列举。
// 本包不做任何缓存决策；重试、连接复用、凭证与代理都在这里处理，上层只看到
// resource 包定义的错误分类。
package transport
