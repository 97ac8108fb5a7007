//go:build cgo

package main

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import "unsafe"

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// cString hands ownership of a C copy of s to the caller, or returns NULL.
func cString(s string, ok bool) *C.char {
	if !ok {
		return nil
	}
	return C.CString(s)
}

//export mssql_pool_create
func mssql_pool_create(configJSON *C.char) C.uint64_t {
	return C.uint64_t(poolCreate(goString(configJSON)))
}

//export mssql_pool_acquire
func mssql_pool_acquire(poolID C.uint64_t) C.uint64_t {
	return C.uint64_t(poolAcquire(uint64(poolID)))
}

//export mssql_pool_release
func mssql_pool_release(poolID, connID C.uint64_t) {
	poolRelease(uint64(poolID), uint64(connID))
}

//export mssql_pool_close
func mssql_pool_close(poolID C.uint64_t) {
	poolClose(uint64(poolID))
}

//export mssql_connect
func mssql_connect(configJSON *C.char) C.uint64_t {
	return C.uint64_t(connect(goString(configJSON)))
}

//export mssql_disconnect
func mssql_disconnect(connID C.uint64_t) {
	disconnect(uint64(connID))
}

//export mssql_query
func mssql_query(connID C.uint64_t, cmdJSON *C.char) *C.char {
	return cString(query(uint64(connID), goString(cmdJSON)))
}

//export mssql_execute_nonquery
func mssql_execute_nonquery(connID C.uint64_t, cmdJSON *C.char) *C.char {
	return cString(execute(uint64(connID), goString(cmdJSON)))
}

//export mssql_exec
func mssql_exec(connID C.uint64_t, cmdJSON *C.char) *C.char {
	return cString(exec(uint64(connID), goString(cmdJSON)))
}

//export mssql_query_stream
func mssql_query_stream(connID C.uint64_t, cmdJSON *C.char) C.uint64_t {
	return C.uint64_t(stream(uint64(connID), goString(cmdJSON)))
}

//export mssql_stream_next
func mssql_stream_next(cursorID C.uint64_t) *C.char {
	return cString(streamNext(uint64(cursorID)))
}

//export mssql_stream_close
func mssql_stream_close(cursorID C.uint64_t) {
	streamClose(uint64(cursorID))
}

//export mssql_bulk_insert
func mssql_bulk_insert(connID C.uint64_t, reqJSON *C.char) *C.char {
	return cString(bulk(uint64(connID), goString(reqJSON)))
}

//export mssql_begin_transaction
func mssql_begin_transaction(connID C.uint64_t, txJSON *C.char) *C.char {
	return cString(begin(uint64(connID), goString(txJSON)))
}

//export mssql_commit
func mssql_commit(connID C.uint64_t, txID *C.char) *C.char {
	return cString(commit(uint64(connID), goString(txID)))
}

//export mssql_rollback
func mssql_rollback(connID C.uint64_t, txID *C.char) *C.char {
	return cString(rollback(uint64(connID), goString(txID)))
}

//export mssql_cancel
func mssql_cancel(connID C.uint64_t) {
	cancel(uint64(connID))
}

//export mssql_filestream_available
func mssql_filestream_available() C.uint32_t {
	return C.uint32_t(filestreamAvailable())
}

//export mssql_filestream_open
func mssql_filestream_open(reqJSON *C.char) C.uint64_t {
	return C.uint64_t(filestreamOpen(goString(reqJSON)))
}

//export mssql_filestream_read
func mssql_filestream_read(fsID, maxBytes C.uint64_t) *C.char {
	return cString(filestreamRead(uint64(fsID), uint64(maxBytes)))
}

//export mssql_filestream_write
func mssql_filestream_write(fsID C.uint64_t, dataBase64 *C.char) C.uint64_t {
	return C.uint64_t(filestreamWrite(uint64(fsID), goString(dataBase64)))
}

//export mssql_filestream_close
func mssql_filestream_close(fsID C.uint64_t) {
	filestreamClose(uint64(fsID))
}

//export mssql_diagnostic_info
func mssql_diagnostic_info() *C.char {
	return C.CString(diagnostics())
}

//export mssql_set_debug
func mssql_set_debug(enabled C.uint32_t) {
	setDebug(uint32(enabled))
}

//export mssql_close_all
func mssql_close_all() {
	closeAll()
}

//export mssql_last_error
func mssql_last_error(handle C.uint64_t) *C.char {
	return cString(lastError(uint64(handle)))
}

//export mssql_free_string
func mssql_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}
