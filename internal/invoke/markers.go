package invoke

const (
	callsOpen    = "<function_calls>"
	callsClose   = "</function_calls>"
	invokeOpen   = "<invoke"
	invokeClose  = "</invoke>"
	paramOpen    = "<parameter"
	paramClose   = "</parameter>"
	nameAttr     = "name="
	legacyOpen   = "<tool_calls>"
	legacyClose  = "</tool_calls>"
	callOpen     = "<tool_call>"
	callClose    = "</tool_call>"
	legacyName   = "name"
	legacyParams = "parameters"
)

func openTag(name string) string  { return "<" + name + ">" }
func closeTag(name string) string { return "</" + name + ">" }
