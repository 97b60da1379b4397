// Package resource 定义远程资源访问层共享的值类型：规范化的资源键、
// 源站元数据、构建纪元（Build Epoch）以及错误分类。
//
// 本包不做任何 I/O，cache/transport/fetcher 均依赖它而互不依赖。
package resource
