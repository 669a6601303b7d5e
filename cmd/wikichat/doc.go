// Copyright (c) WikiChat Authors.
// Licensed under the MIT License.

/*
Package main 提供 WikiChat 可执行程序入口。

# 概述

cmd/wikichat 是检索增强对话代理的前端，提供交互式控制台、HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载与环境变量覆盖、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 链路追踪。

# 核心类型

  - app             — 装配完成的管线组件集合，REPL 与服务模式共用
  - Server          — HTTP 服务器，REST 与 WebSocket 双入口及优雅关闭
  - repl            — 交互式控制台循环
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter  — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：chat（控制台对话）、serve（启动服务）、version、health
  - 对话入口：POST /api/chat、POST /api/ask（单问单答）、
    GET /api/fact（结构化属性查询）、GET /ws（WebSocket 会话）
  - 中间件链：Recovery、RequestID、RequestLogger、Tracing
  - 运维端点：/healthz、/metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止会话清扫 → 关闭 HTTP → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
