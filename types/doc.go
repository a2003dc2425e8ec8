// Package types 定义 ragline 管线的核心值对象与统一错误类型。
// 所有对象都是请求作用域的：每次查询新建，响应返回后丢弃。
package types
