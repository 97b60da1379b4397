// Package fetcher 实现缓存感知的资源访问：根据索引与构建纪元决定直接复用、
// 向源站再验证，或经暂存/提交重新下载。
//
// 同一构建纪元内，每个资源键最多产生一次远程往返；同一键的并发请求共享
// 一次远程操作，不同键之间完全并行。
package fetcher
