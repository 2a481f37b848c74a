package shared

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		msgType MessageType
		payload []byte
	}{
		{"empty connect", ClientConnect, nil},
		{"empty disconnect", ClientDisconnect, nil},
		{"empty task request", TaskRequest, nil},
		{"task response", TaskResponse, SerializeTask(Task{TaskID: 3, StartRow: 0, EndRow: 64, StartCol: 0, EndCol: 64, MatrixSize: 128})},
		{"matrix data", MatrixData, SerializeMatrix(shared2x2())},
		{"computation result", ComputationResult, SerializeResult(Result{TaskID: 1, StartRow: 0, EndRow: 1, StartCol: 0, EndCol: 2, ResultTile: []float64{1, 2}, ExecutionTimeMs: 4.5})},
		{"no work", NoWork, nil},
		{"shutdown", Shutdown, nil},
		{"cpu info", CPUInfo, SerializeCPUInfo(3.4)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			ok := SendMessage(&buf, tc.msgType, tc.payload)
			require.True(t, ok)

			gotType, gotPayload := ReceiveMessage(&buf)
			assert.Equal(t, tc.msgType, gotType)
			assert.Equal(t, tc.payload, gotPayload)
		})
	}
}

func TestFramingIntegrityAcrossConcatenatedMessages(t *testing.T) {
	var buf bytes.Buffer
	var sent []struct {
		typ MessageType
		pl  []byte
	}
	types := []MessageType{TaskRequest, NoWork, TaskResponse, ComputationResult, Shutdown}
	for i, typ := range types {
		var pl []byte
		if typ == TaskResponse {
			pl = SerializeTask(Task{TaskID: int32(i)})
		}
		require.True(t, SendMessage(&buf, typ, pl))
		sent = append(sent, struct {
			typ MessageType
			pl  []byte
		}{typ, pl})
	}

	for _, want := range sent {
		gotType, gotPayload := ReceiveMessage(&buf)
		assert.Equal(t, want.typ, gotType)
		assert.Equal(t, want.pl, gotPayload)
	}
}

func TestReceiveMessageOnShortStreamYieldsDisconnect(t *testing.T) {
	buf := bytes.NewReader([]byte{1, 2, 3})
	typ, payload := ReceiveMessage(buf)
	assert.Equal(t, ClientDisconnect, typ)
	assert.Nil(t, payload)
}

func TestReceiveMessageRejectsAbsurdPayloadLen(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, headerSize)
	// message type 3 (TASK_REQUEST), payload_len absurdly large.
	hdr[0] = 3
	for i := 4; i < 12; i++ {
		hdr[i] = 0xFF
	}
	buf.Write(hdr)

	typ, payload := ReceiveMessage(&buf)
	assert.Equal(t, ClientDisconnect, typ)
	assert.Nil(t, payload)
}

func TestMatrixSerializationRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, shape := range [][2]int{{1, 1}, {3, 5}, {64, 64}, {65, 1}} {
		mat := newRandomMatrix(rng, shape[0], shape[1])
		buf := SerializeMatrix(mat)
		assert.Equal(t, 8+8*shape[0]*shape[1], len(buf))

		got, err := DeserializeMatrix(buf)
		require.NoError(t, err)
		assert.Equal(t, mat.Rows(), got.Rows())
		assert.Equal(t, mat.Cols(), got.Cols())
		assert.Equal(t, mat.Data(), got.Data())
	}
}

func TestTaskSerializationRoundTrip(t *testing.T) {
	task := Task{TaskID: 42, StartRow: 0, EndRow: 64, StartCol: 64, EndCol: 128, MatrixSize: 256}
	buf := SerializeTask(task)
	got, err := DeserializeTask(buf)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestResultSerializationRoundTrip(t *testing.T) {
	result := Result{
		TaskID:          7,
		StartRow:        64,
		EndRow:          66,
		StartCol:        0,
		EndCol:          3,
		ResultTile:      []float64{1.5, -2.25, 3.75, 4, 5, 6},
		ExecutionTimeMs: 12.125,
	}
	buf := SerializeResult(result)
	got, err := DeserializeResult(buf)
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

func TestCPUInfoSerializationRoundTrip(t *testing.T) {
	buf := SerializeCPUInfo(3.9)
	got, err := DeserializeCPUInfo(buf)
	require.NoError(t, err)
	assert.InDelta(t, 3.9, got, 1e-12)
}

func shared2x2() Matrix {
	return MatrixFromRowMajor(2, 2, []float64{1, 2, 3, 4})
}

func newRandomMatrix(rng *rand.Rand, rows, cols int) Matrix {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64()
	}
	return MatrixFromRowMajor(rows, cols, data)
}
