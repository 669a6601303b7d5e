// Copyright (c) WikiChat Authors.
// Licensed under the MIT License.

/*
Package types 提供 wikichat 各模块共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 extract、kb、wiki、rank、
chat 等上层模块提供统一的类型契约。跨包共享的结构体、枚举和错误码均
定义于此，以避免循环依赖。

# 核心类型

  - Entity            — 查询中抽取的命名实体提及（仅表层文本）
  - KBEntry           — 知识库实体/属性搜索的消歧候选（ID + Label + Description）
  - PropertyValue     — 解码后的属性值，可带单位标签后缀
  - KnowledgeSentence — 摘要中切分出的单句，按（实体序, 句序）定位
  - DialogueTurn      — 会话中的一轮发言，追加后不可变
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Service 标记

# 错误工具链

NOT_FOUND 与 SERVICE_UNAVAILABLE 的区分贯穿整个检索管线：前者是预期的
空结果（跳过即可），后者是外部服务故障（记录日志后继续本轮剩余工作）。
IsNotFound / IsUnavailable / IsRetryable 供调用方做错误分类。
*/
package types
