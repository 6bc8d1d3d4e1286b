package ctrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_TypesAndNames(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{UlGrant{}, "UL_DCI"},
		{DlGrant{}, "DL_DCI"},
		{BufferStatusReport{}, "BSR"},
		{SchedulingRequest{}, "SR"},
		{HarqFeedback{}, "HARQ"},
		{DlCqiReport{}, "DL_CQI"},
		{MasterInformationBlock{}, "MIB"},
		{SystemInformationBlock1{}, "SIB1"},
	}
	for _, tt := range tests {
		if got := tt.msg.Type().String(); got != tt.want {
			t.Errorf("%T: got %q, want %q", tt.msg, got, tt.want)
		}
	}
	assert.Equal(t, "MessageType(42)", MessageType(42).String())
}

func TestMessage_SourceBwp(t *testing.T) {
	m := HarqFeedback{Header: Header{Bwp: 3}}
	assert.Equal(t, uint16(3), m.SourceBwp())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"ul grant", UlGrant{Span: ResourceSpan{Start: 0, Length: 4}, TbsBytes: 10}, false},
		{"ul grant empty span", UlGrant{Span: ResourceSpan{Start: 0, Length: 0}}, true},
		{"dl grant negative tbs", DlGrant{Span: ResourceSpan{Length: 1}, TbsBytes: -1}, true},
		{"bsr", BufferStatusReport{Groups: []GroupBuffer{{Group: 1, Bytes: 10, AgeQueue: []int64{1, 1, 4}}}}, false},
		{"bsr negative", BufferStatusReport{Groups: []GroupBuffer{{Group: 1, Bytes: -1}}}, true},
		{"bsr duplicate group", BufferStatusReport{Groups: []GroupBuffer{{Group: 1}, {Group: 1}}}, true},
		{"bsr unordered queue", BufferStatusReport{Groups: []GroupBuffer{{Group: 1, Bytes: 2, AgeQueue: []int64{5, 3}}}}, true},
		{"sr unordered queue", SchedulingRequest{AgeQueue: []int64{9, 2}}, true},
		{"cqi in range", DlCqiReport{WidebandCqi: 15}, false},
		{"cqi out of range", DlCqiReport{WidebandCqi: 16}, true},
		{"mib", MasterInformationBlock{SystemFrame: 1023}, false},
		{"mib frame out of range", MasterInformationBlock{SystemFrame: 1024}, true},
		{"sib1", SystemInformationBlock1{CellID: 1, Plmn: "00101"}, false},
		{"sib1 empty plmn", SystemInformationBlock1{CellID: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHeadOfLineDelay(t *testing.T) {
	assert.Equal(t, int64(0), HeadOfLineDelay(nil, 10))
	assert.Equal(t, int64(7), HeadOfLineDelay([]int64{3, 8}, 10))
	assert.Equal(t, int64(0), HeadOfLineDelay([]int64{12}, 10), "future packets never give a negative delay")
}

func TestBufferStatusReport_TotalBytes(t *testing.T) {
	r := BufferStatusReport{Groups: []GroupBuffer{{Group: 0, Bytes: 5}, {Group: 3, Bytes: 11}}}
	assert.Equal(t, int64(16), r.TotalBytes())
}
