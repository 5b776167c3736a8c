package model

import "encoding/json"

// Document 表示一条半结构化记录。
//
// 服务不对字段做静态建模：文档在存储层以 JSON 形式落盘，
// 在内存中以 map 表示，字段集合由各集合的校验器约束。
type Document map[string]any

// IDField 文档主键字段名，兼容 Mongo 风格的 _id。
const IDField = "_id"

// ID 返回文档主键，缺失时返回空串。
func (d Document) ID() string {
	return d.String(IDField)
}

// SetID 写入文档主键。
func (d Document) SetID(id string) {
	d[IDField] = id
}

// Has 判断字段是否存在。
func (d Document) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// String 返回字符串字段的值，缺失或类型不符时返回空串。
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Bool 返回布尔字段的值，缺失或类型不符时返回 false。
func (d Document) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// StringSlice 返回字符串数组字段的值。
//
// JSON 解码出的数组是 []any，这里统一转换为 []string，
// 非字符串元素被丢弃。
func (d Document) StringSlice(field string) []string {
	switch v := d[field].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone 返回文档的深拷贝。
//
// 文档来自 JSON 解码，值域限于 JSON 类型，逐层复制即可。
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Decode 从 JSON 字节解码文档。
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode 将文档编码为 JSON 字节。
func (d Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}
