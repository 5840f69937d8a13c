package storage

import (
	"os"

	"github.com/apache/arrow/go/arrow"
	"github.com/apache/arrow/go/arrow/array"
	"github.com/apache/arrow/go/arrow/ipc"
	"github.com/apache/arrow/go/arrow/memory"
)

// ArchRecordArrowSchema returns the Arrow schema for ArchRecord.
func ArchRecordArrowSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "task", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "episode", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "step", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "genotype", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "op_1_0", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "op_2_0", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "op_2_1", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "op_3_0", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "op_3_1", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "op_3_2", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "accuracy", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "reward", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	}, nil)
}

// WriteArchRecordsToArrowIPC writes records to an Arrow IPC stream file.
func WriteArchRecordsToArrowIPC(filePath string, records []ArchRecord) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	schema := ArchRecordArrowSchema()
	w := ipc.NewWriter(file, ipc.WithSchema(schema))
	defer w.Close()

	batch := archRecordsToArrowBatch(records, memory.NewGoAllocator())
	defer batch.Release()

	return w.Write(batch)
}

// archRecordsToArrowBatch converts ArchRecords to an Arrow Record.
func archRecordsToArrowBatch(records []ArchRecord, mem memory.Allocator) array.Record {
	schema := ArchRecordArrowSchema()

	taskBuilder := array.NewStringBuilder(mem)
	defer taskBuilder.Release()

	episodeBuilder := array.NewInt32Builder(mem)
	defer episodeBuilder.Release()

	stepBuilder := array.NewInt32Builder(mem)
	defer stepBuilder.Release()

	genotypeBuilder := array.NewStringBuilder(mem)
	defer genotypeBuilder.Release()

	op10Builder := array.NewInt32Builder(mem)
	defer op10Builder.Release()

	op20Builder := array.NewInt32Builder(mem)
	defer op20Builder.Release()

	op21Builder := array.NewInt32Builder(mem)
	defer op21Builder.Release()

	op30Builder := array.NewInt32Builder(mem)
	defer op30Builder.Release()

	op31Builder := array.NewInt32Builder(mem)
	defer op31Builder.Release()

	op32Builder := array.NewInt32Builder(mem)
	defer op32Builder.Release()

	accuracyBuilder := array.NewFloat64Builder(mem)
	defer accuracyBuilder.Release()

	rewardBuilder := array.NewFloat64Builder(mem)
	defer rewardBuilder.Release()

	for _, record := range records {
		taskBuilder.Append(record.Task)
		episodeBuilder.Append(record.Episode)
		stepBuilder.Append(record.Step)
		genotypeBuilder.Append(record.Genotype)
		op10Builder.Append(record.Op10)
		op20Builder.Append(record.Op20)
		op21Builder.Append(record.Op21)
		op30Builder.Append(record.Op30)
		op31Builder.Append(record.Op31)
		op32Builder.Append(record.Op32)
		accuracyBuilder.Append(record.Accuracy)
		rewardBuilder.Append(record.Reward)
	}

	taskArr := taskBuilder.NewArray()
	defer taskArr.Release()

	episodeArr := episodeBuilder.NewArray()
	defer episodeArr.Release()

	stepArr := stepBuilder.NewArray()
	defer stepArr.Release()

	genotypeArr := genotypeBuilder.NewArray()
	defer genotypeArr.Release()

	op10Arr := op10Builder.NewArray()
	defer op10Arr.Release()

	op20Arr := op20Builder.NewArray()
	defer op20Arr.Release()

	op21Arr := op21Builder.NewArray()
	defer op21Arr.Release()

	op30Arr := op30Builder.NewArray()
	defer op30Arr.Release()

	op31Arr := op31Builder.NewArray()
	defer op31Arr.Release()

	op32Arr := op32Builder.NewArray()
	defer op32Arr.Release()

	accuracyArr := accuracyBuilder.NewArray()
	defer accuracyArr.Release()

	rewardArr := rewardBuilder.NewArray()
	defer rewardArr.Release()

	var cols []array.Interface
	cols = append(cols,
		taskArr, episodeArr, stepArr, genotypeArr,
		op10Arr, op20Arr, op21Arr, op30Arr, op31Arr, op32Arr,
		accuracyArr, rewardArr,
	)

	return array.NewRecord(schema, cols, int64(len(records)))
}

// ReadArchRecordsFromArrowIPC reads records from an Arrow IPC stream file.
func ReadArchRecordsFromArrowIPC(filePath string) ([]ArchRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r, err := ipc.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer r.Release()

	var records []ArchRecord
	for r.Next() {
		batch := r.Record()
		records = append(records, arrowBatchToArchRecords(batch)...)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// arrowBatchToArchRecords converts an Arrow Record back to ArchRecords.
func arrowBatchToArchRecords(batch array.Record) []ArchRecord {
	var records []ArchRecord

	taskCol := batch.Column(0).(*array.String)
	episodeCol := batch.Column(1).(*array.Int32)
	stepCol := batch.Column(2).(*array.Int32)
	genotypeCol := batch.Column(3).(*array.String)
	op10Col := batch.Column(4).(*array.Int32)
	op20Col := batch.Column(5).(*array.Int32)
	op21Col := batch.Column(6).(*array.Int32)
	op30Col := batch.Column(7).(*array.Int32)
	op31Col := batch.Column(8).(*array.Int32)
	op32Col := batch.Column(9).(*array.Int32)
	accuracyCol := batch.Column(10).(*array.Float64)
	rewardCol := batch.Column(11).(*array.Float64)

	for i := 0; i < int(batch.NumRows()); i++ {
		records = append(records, ArchRecord{
			Task:     taskCol.Value(i),
			Episode:  episodeCol.Value(i),
			Step:     stepCol.Value(i),
			Genotype: genotypeCol.Value(i),
			Op10:     op10Col.Value(i),
			Op20:     op20Col.Value(i),
			Op21:     op21Col.Value(i),
			Op30:     op30Col.Value(i),
			Op31:     op31Col.Value(i),
			Op32:     op32Col.Value(i),
			Accuracy: accuracyCol.Value(i),
			Reward:   rewardCol.Value(i),
		})
	}

	return records
}
