// Package cache 持有远程资源的本地副本：基于 goleveldb 的持久化索引
// （资源键 → 相对路径、源站元数据、最近确认的构建纪元），以及
// “暂存 → 校验 → 原子提升”的写入流程。
//
// 磁盘布局：
//
//	<StoragePath>/files/<host>/<sha1(key)>/<basename>   # 已提交的正文
//	<StoragePath>/tmp/.stage-*                           # 暂存文件，提交前对调用方不可见
//	<IndexPath>/                                         # leveldb 索引
//
// 调用方只读取 Entry.Path，不应直接删除或修改其中的文件。
package cache
